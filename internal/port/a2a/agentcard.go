package a2a

// AgentCard describes an agent's capabilities per the A2A protocol.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Skills             []Skill      `json:"skills"`
}

// Capabilities lists the optional protocol features the agent supports.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// Skill describes a single capability of the agent.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// CardInfo is the configurable part of the agent card.
type CardInfo struct {
	Name        string
	Description string
	Version     string
	BaseURL     string
}

// BuildAgentCard returns the agent card for the contract review service.
func BuildAgentCard(info CardInfo) AgentCard {
	return AgentCard{
		Name:        info.Name,
		Description: info.Description,
		URL:         info.BaseURL + "/a2a",
		Version:     info.Version,
		Capabilities: Capabilities{
			Streaming:              true,
			StateTransitionHistory: true,
		},
		DefaultInputModes:  []string{"text", "file"},
		DefaultOutputModes: []string{"text"},
		Skills: []Skill{
			{
				ID:          "contract_review",
				Name:        "Contract Review",
				Description: "Extracts clauses from a contract, assesses their legal risk and recommends changes",
				Tags:        []string{"legal", "contract", "risk", "compliance"},
				Examples: []string{
					"Review this NDA for one-sided obligations",
					"Assess the liability and termination clauses of this services agreement",
				},
				InputModes:  []string{"text", "file"},
				OutputModes: []string{"text"},
			},
		},
	}
}
