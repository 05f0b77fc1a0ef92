package core

import "fmt"

// IonKey identifies a (formula, adduct) candidate. It is comparable and is
// used as the map key at every stage of the pipeline.
type IonKey struct {
	FormulaID int
	Adduct    string
}

// Less orders keys by formula id, then adduct.
func (k IonKey) Less(o IonKey) bool {
	if k.FormulaID != o.FormulaID {
		return k.FormulaID < o.FormulaID
	}
	return k.Adduct < o.Adduct
}

func (k IonKey) String() string {
	return fmt.Sprintf("%d%s", k.FormulaID, k.Adduct)
}

// PeakKey identifies one isotope peak of a candidate. Rank is the 0-based
// index into the theoretical isotope pattern.
type PeakKey struct {
	Ion  IonKey
	Rank int
}

// Less orders keys by ion, then peak rank.
func (k PeakKey) Less(o PeakKey) bool {
	if k.Ion != o.Ion {
		return k.Ion.Less(o.Ion)
	}
	return k.Rank < o.Rank
}

func (k PeakKey) String() string {
	return fmt.Sprintf("%s#%d", k.Ion, k.Rank)
}
