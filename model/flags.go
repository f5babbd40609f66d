package model

// params for Flags
type CommandLineFlags struct {
	Host     *string `json:"host"`
	Port     *string `json:"port"`
	Config   *string `json:"config"`
	Datasets *string `json:"datasets"`
	Only     *string `json:"only"`
	Exclude  *string `json:"exclude"`
	List     *bool   `json:"list"`
	AsTables *bool   `json:"as_tables"`
	NoWipe   *bool   `json:"no_wipe"`
}
