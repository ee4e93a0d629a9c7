package schemapack

// Particle is one child slot in a container's sequence.
// Max of UnboundedOccurrences means no upper bound.
type Particle struct {
	Name string `yaml:"name" json:"name"`
	Min  int    `yaml:"min" json:"min"`
	Max  int    `yaml:"max" json:"max"`
}

// Grammar maps a container's local name to its ordered content model.
// Container names are unique within the modelled MISMO subset, so a flat
// map is enough. Containers without an entry are not checked.
type Grammar map[string][]Particle

// Model returns the content model for a container.
func (g Grammar) Model(container string) ([]Particle, bool) {
	m, ok := g[container]
	return m, ok
}

// Rank returns the position of child in container's sequence.
func (g Grammar) Rank(container, child string) (int, bool) {
	for i, p := range g[container] {
		if p.Name == child {
			return i, true
		}
	}
	return 0, false
}

func one(name string) Particle      { return Particle{Name: name, Min: 1, Max: 1} }
func optional(name string) Particle { return Particle{Name: name, Min: 0, Max: 1} }
func many(name string) Particle     { return Particle{Name: name, Min: 1, Max: UnboundedOccurrences} }
func anyOf(name string) Particle    { return Particle{Name: name, Min: 0, Max: UnboundedOccurrences} }

// DefaultGrammar returns the content models for the MISMO 3.4 subset this
// pipeline reads and writes. Sequences follow the reference model's
// alphabetical ordering with EXTENSION last.
func DefaultGrammar() Grammar {
	return Grammar{
		"MESSAGE":         {one("ABOUT_VERSIONS"), one("DEAL_SETS")},
		"ABOUT_VERSIONS":  {many("ABOUT_VERSION")},
		"ABOUT_VERSION":   {optional("CreatedDatetime"), one("DataVersionIdentifier")},
		"DEAL_SETS":       {many("DEAL_SET")},
		"DEAL_SET":        {one("DEALS")},
		"DEALS":           {many("DEAL")},
		"DEAL":            {optional("COLLATERALS"), one("LOANS"), optional("PARTIES"), optional("EXTENSION")},
		"COLLATERALS":     {many("COLLATERAL")},
		"COLLATERAL":      {one("SUBJECT_PROPERTY")},
		"SUBJECT_PROPERTY": {optional("ADDRESS"), optional("PROPERTY_DETAIL")},
		"ADDRESS": {
			optional("AddressLineText"), optional("CityName"),
			optional("PostalCode"), optional("StateCode"),
		},
		"PROPERTY_DETAIL": {optional("PropertyEstimatedValueAmount"), optional("PropertyUsageType")},
		"LOANS":           {many("LOAN")},
		"LOAN": {
			optional("AMORTIZATION"), optional("FEE_INFORMATION"), optional("LOAN_IDENTIFIERS"),
			optional("MATURITY"), optional("REFINANCE"), one("TERMS_OF_LOAN"),
		},
		"AMORTIZATION":      {one("AMORTIZATION_RULE")},
		"AMORTIZATION_RULE": {optional("AmortizationType")},
		"FEE_INFORMATION":   {one("FEES")},
		"FEES":              {many("FEE")},
		"FEE":               {one("FEE_DETAIL")},
		"FEE_DETAIL":        {optional("FeeActualTotalAmount"), optional("FeePaidToType"), optional("FeeType")},
		"LOAN_IDENTIFIERS":  {many("LOAN_IDENTIFIER")},
		"LOAN_IDENTIFIER":   {optional("LoanIdentifier")},
		"MATURITY":          {one("MATURITY_RULE")},
		"MATURITY_RULE":     {optional("LoanMaturityPeriodCount")},
		"REFINANCE":         {optional("RefinanceCashOutAmount")},
		"TERMS_OF_LOAN": {
			optional("BaseLoanAmount"), optional("LienPriorityType"), optional("LoanPurposeType"),
			optional("MortgageType"), optional("NoteRatePercent"),
		},
		"PARTIES":    {many("PARTY")},
		"PARTY":      {optional("INDIVIDUAL"), optional("ROLES")},
		"INDIVIDUAL": {optional("CONTACT_POINTS"), optional("NAME")},
		"CONTACT_POINTS": {many("CONTACT_POINT")},
		"CONTACT_POINT": {
			optional("CONTACT_POINT_EMAIL"), optional("CONTACT_POINT_TELEPHONE"),
		},
		"CONTACT_POINT_EMAIL":     {optional("ContactPointEmailValue")},
		"CONTACT_POINT_TELEPHONE": {optional("ContactPointTelephoneValue")},
		"NAME":                    {optional("FirstName"), optional("LastName")},
		"ROLES":                   {many("ROLE")},
		"ROLE":                    {optional("BORROWER"), optional("ROLE_DETAIL")},
		"BORROWER":                {optional("BORROWER_DETAIL")},
		"BORROWER_DETAIL":         {optional("BorrowerClassificationType")},
		"ROLE_DETAIL":             {optional("PartyRoleType")},
		"EXTENSION":               {optional("OTHER")},
		"OTHER":                   {anyOf(ExtensionFieldName)},
	}
}
