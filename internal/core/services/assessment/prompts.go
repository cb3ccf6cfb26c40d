package assessment

import "github.com/lcalzada-xor/vulnintel/internal/core/ports"

const enrichmentInstruction = `You are a vulnerability analyst. Extract structured facts from the
vulnerability description. Use "Unknown" when a fact is not stated.`

const assetMatchingInstruction = `You are a cybersecurity asset management expert. Decide whether a
vulnerability impacts the company's internal assets based on their software inventory and operating
system. Match the affected component against each asset's software and os. Be conservative: when a
component name matches but versions are drastically different, say so in the reasoning. When no asset
matches, set is_relevant to false and return an empty list.`

const techniqueMappingInstruction = `You are a threat intelligence analyst. Map the vulnerability to
MITRE ATT&CK techniques. Use only existing ATT&CK technique identifiers (for example T1190 or
T1059.001). Do not invent identifiers. Give each technique a confidence between 0.0 and 1.0.`

const reportInstruction = `Generate a threat intelligence report for SOC analysts from the assessment
data. Include a narrative summary outlining the risk and a structured JSON representation.`

var enrichmentSchema = &ports.ResultSchema{
	Type: ports.TypeObject,
	Properties: map[string]*ports.ResultSchema{
		"affected_component": {Type: ports.TypeString, Description: "Software, hardware or component affected"},
		"attack_vector":      {Type: ports.TypeString, Description: "How the attack is executed, e.g. Network, Local, Physical"},
		"impact_type":        {Type: ports.TypeString, Description: "Type of impact, e.g. RCE, DoS, Privilege Escalation"},
		"cwe":                {Type: ports.TypeString, Description: "CWE identifier of the weakness, e.g. CWE-79"},
	},
	Required: []string{"affected_component", "attack_vector", "impact_type", "cwe"},
}

var assetMatchingSchema = &ports.ResultSchema{
	Type: ports.TypeObject,
	Properties: map[string]*ports.ResultSchema{
		"impacted_asset_ids": {
			Type:        ports.TypeArray,
			Description: "IDs of the assets likely vulnerable",
			Items:       &ports.ResultSchema{Type: ports.TypeString},
		},
		"is_relevant": {Type: ports.TypeBoolean, Description: "True if at least one asset is potentially impacted"},
		"impact_level": {
			Type:        ports.TypeString,
			Description: "Impact on the infrastructure",
			Enum:        []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"},
		},
		"reasoning": {Type: ports.TypeString, Description: "Brief explanation of the match"},
	},
	Required: []string{"impacted_asset_ids", "is_relevant", "impact_level", "reasoning"},
}

var techniqueMappingSchema = &ports.ResultSchema{
	Type: ports.TypeObject,
	Properties: map[string]*ports.ResultSchema{
		"techniques": {
			Type: ports.TypeArray,
			Items: &ports.ResultSchema{
				Type: ports.TypeObject,
				Properties: map[string]*ports.ResultSchema{
					"technique_id": {Type: ports.TypeString, Description: "MITRE ATT&CK technique ID, e.g. T1190"},
					"name":         {Type: ports.TypeString, Description: "Technique name"},
					"confidence":   {Type: ports.TypeNumber, Description: "Confidence between 0.0 and 1.0"},
				},
				Required: []string{"technique_id", "name", "confidence"},
			},
		},
	},
	Required: []string{"techniques"},
}

var reportSchema = &ports.ResultSchema{
	Type: ports.TypeObject,
	Properties: map[string]*ports.ResultSchema{
		"narrative":       {Type: ports.TypeString, Description: "Narrative summary for SOC analysts"},
		"structured_json": {Type: ports.TypeString, Description: "Structured JSON representation"},
	},
	Required: []string{"narrative", "structured_json"},
}
