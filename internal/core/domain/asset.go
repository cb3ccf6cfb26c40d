package domain

// Asset is an entry of the organisation's inventory (CMDB).
type Asset struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Software    []string `json:"software" yaml:"software"`
	OS          string   `json:"os" yaml:"os"`
	Owner       string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Criticality string   `json:"criticality,omitempty" yaml:"criticality,omitempty"`
}
