// Package flow holds the canned inquiry flows and the rules that route user
// input to them.
package flow

import "policycopilot/internal/models"

// Key identifies one canned flow.
type Key string

const (
	KeyFame             Key = "fame"
	KeyPayment          Key = "payment"
	KeyStateGuarantee   Key = "state_guarantee"
	KeyRisk             Key = "risk"
	KeyBattery          Key = "battery"
	KeyTechStandards    Key = "tech_standards"
	KeyFiscal           Key = "fiscal"
	KeyVietnamCompare   Key = "vietnam_compare"
	KeyIndonesiaCompare Key = "indonesia_compare"
)

// Entry is one question/answer pair of the flow table. Answers use **bold**
// spans for emphasis.
type Entry struct {
	Key         Key             `json:"key"`
	Prompt      string          `json:"prompt"`
	Answer      string          `json:"answer"`
	Citation    models.Citation `json:"citation"`
	Suggestions []string        `json:"suggestions"`
}

var entries = []Entry{
	{
		Key:    KeyFame,
		Prompt: "What are the incentive caps under FAME II?",
		Answer: "Under **FAME II Guidelines**, the demand incentive for electric buses is capped at **40% of the vehicle cost**. \n\n" +
			"Additionally, there is an absolute ceiling of ₹55 Lakhs per bus to ensure equitable distribution of funds.",
		Citation:    models.Citation{ID: "cit-fame", DocumentName: "FAME II Guidelines", Page: 8},
		Suggestions: []string{"Compare with Vietnam's Policy", "Check Battery Swapping rules"},
	},
	{
		Key:    KeyPayment,
		Prompt: "How does the Payment Security Mechanism work?",
		Answer: "The **Payment Security Mechanism (PSM)** utilizes a **revolving fund** structure.\n\n" +
			"This fund is capitalized to cover a **3-Month Fund** of receivables, providing a guaranteed liquidity buffer for operators against delayed payments from DISCOMs.",
		Citation:    models.Citation{ID: "cit-psm", DocumentName: "CESL Tender", Page: 12},
		Suggestions: []string{"Does it cover State Guarantees?", "Analyze Risk Factors"},
	},
	{
		Key:    KeyStateGuarantee,
		Prompt: "Does it cover State Guarantees?",
		Answer: "Yes, the PSM includes a provision for **State Government Guarantees**. \n\n" +
			"If the revolving fund is depleted, the State Government is obligated to step in and cover the payment deficit within 30 days of the default notice.",
		Citation:    models.Citation{ID: "cit-psm-guarantee", DocumentName: "CESL Tender", Page: 14},
		Suggestions: []string{"Analyze Risk Factors", "Back to FAME Incentives"},
	},
	{
		Key:    KeyRisk,
		Prompt: "Analyze Risk Factors",
		Answer: "The primary risk identified is the **delayed replenishment of the revolving fund** by state utilities. \n\n" +
			"However, the contract mitigates this by allowing the aggregator to **invoke the State Guarantee** immediately if the fund balance drops below 50%.",
		Citation:    models.Citation{ID: "cit-psm-risk", DocumentName: "CESL Tender", Page: 16},
		Suggestions: []string{"How does this compare to Vietnam?", "Show Battery Specs"},
	},
	{
		Key:    KeyBattery,
		Prompt: "Check Battery Swapping rules",
		Answer: "The **National Battery Swapping Policy** mandates that all battery packs must be **interoperable** and adhere to BIS standards.\n\n" +
			"Providers are also required to share real-time State of Health (SOH) data with a central registry.",
		Citation:    models.Citation{ID: "cit-batt", DocumentName: "Battery Policy", Page: 6},
		Suggestions: []string{"Show Technical Standards", "Fiscal Incentives details"},
	},
	{
		Key:    KeyTechStandards,
		Prompt: "Show Technical Standards",
		Answer: "The technical standards require batteries to feature **IoT-enabled BMS** for real-time tracking.\n\n" +
			"Connectors must comply with **ISO 15118** to ensure universal compatibility across different vehicle makes.",
		Citation:    models.Citation{ID: "cit-batt-tech", DocumentName: "Battery Policy", Page: 18},
		Suggestions: []string{"Fiscal Incentives details", "Back to Payment Security"},
	},
	{
		Key:    KeyFiscal,
		Prompt: "Fiscal Incentives details",
		Answer: "Battery providers are eligible for **Battery Swapping Credits (BSC)** which can be traded on the carbon market. \n\n" +
			"Examples include a **20% depreciation benefit** on battery assets in the first year.",
		Citation:    models.Citation{ID: "cit-batt-fiscal", DocumentName: "Battery Policy", Page: 22},
		Suggestions: []string{"Compare with Vietnam's Policy", "Back to Main Menu"},
	},
	{
		Key:    KeyVietnamCompare,
		Prompt: "Compare with Vietnam's Policy",
		Answer: "Unlike India's FAME II, **Vietnam's policy** focuses more on **Tax Holidays** rather than direct purchase subsidies. \n\n" +
			"Vietnam offers a **0% Registration Fee** for EVs for the first 3 years, whereas India provides upfront capital subsidies.",
		Citation:    models.Citation{ID: "cit-vn-compare", DocumentName: "Vietnam EV Roadmap", Page: 12},
		Suggestions: []string{"What about Indonesia?", "Back to Payment Security"},
	},
	{
		Key:    KeyIndonesiaCompare,
		Prompt: "What about Indonesia?",
		Answer: "**Indonesia** pairs a **VAT reduction** on locally assembled EVs with **local content (TKDN) thresholds** that rise over time. \n\n" +
			"Unlike India's upfront subsidies, the incentive is only unlocked once a manufacturer meets the **40% local content** requirement.",
		Citation:    models.Citation{ID: "cit-id-compare", DocumentName: "Indonesia EV Acceleration Decree", Page: 4},
		Suggestions: []string{"Compare with Vietnam's Policy", "Back to FAME Incentives"},
	},
}

var byKey = func() map[Key]int {
	idx := make(map[Key]int, len(entries))
	for i, e := range entries {
		idx[e.Key] = i
	}
	return idx
}()

// Table returns a copy of every flow entry in a stable order.
func Table() []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.clone()
	}
	return out
}

// Lookup returns the entry for key.
func Lookup(key Key) (Entry, bool) {
	i, ok := byKey[key]
	if !ok {
		return Entry{}, false
	}
	return entries[i].clone(), true
}

func (e Entry) clone() Entry {
	e.Suggestions = append([]string(nil), e.Suggestions...)
	return e
}
