package brewery

// Autonomy is the stock-autonomy indicator.
type Autonomy struct {
	ReturnCode string            `json:"codeRetour"`
	Products   []AutonomyProduct `json:"produits"`
}

type AutonomyProduct struct {
	Label           string  `json:"libelle"`
	Quantity        float64 `json:"quantite"`
	VirtualQuantity float64 `json:"quantiteVirtuelle"`
	Volume          float64 `json:"volume"`
	VirtualVolume   float64 `json:"volumeVirtuel"`
	// Days of stock left at the current sales pace.
	Autonomy float64 `json:"autonomie"`
}

type Consumption struct {
	ReturnCode string             `json:"codeRetour"`
	Packaging  ConsumptionSection `json:"syntheseConditionnement"`
	Containers ConsumptionSection `json:"syntheseContenant"`
	Ingredient ConsumptionSection `json:"syntheseIngredient"`
	Misc       ConsumptionSection `json:"syntheseDivers"`
}

type ConsumptionSection struct {
	Cost     float64              `json:"cout"`
	Quantity float64              `json:"quantite"`
	Elements []ConsumptionElement `json:"elements"`
}

type ConsumptionElement struct {
	MaterialID int     `json:"idMatierePremiere"`
	Label      string  `json:"libelle"`
	Quantity   float64 `json:"quantite"`
	Unit       string  `json:"unite"`
	Cost       float64 `json:"cout"`
}

type RawMaterial struct {
	ID              int          `json:"idMatierePremiere"`
	Label           string       `json:"libelle"`
	Quantity        float64      `json:"quantite"`
	VirtualQuantity float64      `json:"quantiteVirtuelle"`
	LowThreshold    float64      `json:"seuilBas"`
	HighThreshold   float64      `json:"seuilHaut"`
	Type            MaterialType `json:"type"`
	Unit            Unit         `json:"unite"`
	Active          bool         `json:"actif"`
}

// BelowThreshold reports whether virtual stock fell under the low threshold.
func (m RawMaterial) BelowThreshold() bool {
	return m.LowThreshold > 0 && m.VirtualQuantity < m.LowThreshold
}

type MaterialType struct {
	Code  string `json:"code"`
	Label string `json:"libelle"`
}

type Unit struct {
	ID     int    `json:"idUnite"`
	Name   string `json:"nom"`
	Symbol string `json:"symbole"`
}

type Product struct {
	ID    int    `json:"idProduit"`
	Label string `json:"libelle"`
}

type Warehouse struct {
	ID    int    `json:"idEntrepot"`
	Label string `json:"libelle"`
	Name  string `json:"nom"`
	Main  bool   `json:"principal"`
}

// ProductDetail is the edit view of a product; only the recipes are decoded.
type ProductDetail struct {
	ID      int      `json:"idProduit"`
	Label   string   `json:"libelle"`
	Recipes []Recipe `json:"recettes"`
}

type Recipe struct {
	// Reference volume in litres the ingredient quantities are given for.
	Volume      float64      `json:"volumeRecette"`
	Ingredients []Ingredient `json:"ingredients"`
}

type Ingredient struct {
	Order    int         `json:"ordre"`
	Quantity float64     `json:"quantite"`
	Step     BrewingStep `json:"brassageEtape"`
	Material MaterialRef `json:"matierePremiere"`
}

// BrewingStep carries either nom or libelle depending on the endpoint.
type BrewingStep struct {
	Name  string `json:"nom"`
	Label string `json:"libelle"`
}

func (s BrewingStep) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Label
}

type MaterialRef struct {
	ID    int    `json:"idMatierePremiere"`
	Label string `json:"libelle"`
}

// Lot is one numbered lot of a raw material.
type Lot struct {
	ID       int     `json:"idMatierePremiereNumeroLot"`
	Code     string  `json:"numeroLot"`
	Quantity float64 `json:"quantite"`
	// Best-before date as epoch milliseconds; nil when the lot has none.
	BestBefore *int64 `json:"dateLimiteUtilisationOptimale"`
}
