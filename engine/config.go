package engine

// Config configures the policy network.
type Config struct {
	Hidden      int  `json:"hidden"`       // hidden layer width
	Features    int  `json:"features"`     // input feature count
	ActionSpace int  `json:"action_space"` // action space
	FwdOnly     bool `json:"fwd_only"`     // is this a fwd only graph?
}

func DefaultConfig(actionSpace int) Config {
	return Config{
		Hidden:      256,
		Features:    InputSize,
		ActionSpace: actionSpace,
		FwdOnly:     true,
	}
}

func (conf Config) IsValid() bool {
	return conf.Hidden >= 1 &&
		conf.Features >= 1 &&
		conf.ActionSpace >= 3
}
