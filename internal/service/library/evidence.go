package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoEvidence means the citation names a document the vault does not hold.
	ErrNoEvidence = errors.New("document not in evidence vault")
	ErrPageRange  = errors.New("page out of range")
)

// defaultPage is shown when a vault document is opened without a citation.
const defaultPage = 12

// Evidence is the vault view of one cited passage.
type Evidence struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	FullTitle string `json:"fullTitle"`
	Pages     int    `json:"pages"`
	Page      int    `json:"page"`
	Category  string `json:"category"`
	Section   string `json:"section"`
	Lead      string `json:"lead"`
	Highlight string `json:"highlight"`
	Trailer   string `json:"trailer"`
	Footer    string `json:"footer"`
}

type vaultDoc struct {
	title, fullTitle string
	pages            int
	category         string
	section          string
	lead             string
	highlight        string
	trailer          string
}

var vault = map[string]vaultDoc{
	"CESL Tender": {
		title:     "CESL_Payment_Security_Framework.pdf",
		fullTitle: "CESL_Payment_Security_Framework_v2.1_Final.pdf",
		pages:     84,
		category:  "Financial Framework",
		section:   "3.4 Payment Security Mechanism (PSM)",
		lead:      "The implementation of the Payment Security Mechanism (PSM) is a critical component of the Grand Challenge framework. It is designed to foster trust between the operating entities and the financial aggregators. Without a robust security layer, the participation of private entities would be severely limited.",
		highlight: "The logic was to mitigate payment risk for aggregators by ensuring a revolving fund covered 3 months of receivables.",
		trailer:   "This fund acts as a primary liquidity buffer, accessible immediately upon any delay in scheduled payments, thereby ensuring operational continuity.",
	},
	"FAME II Guidelines": {
		title:     "FAME_II_Operational_Guidelines.pdf",
		fullTitle: "FAME_II_Operational_Guidelines_Ministry_Heavy_Industries.pdf",
		pages:     42,
		category:  "Incentive Policy",
		section:   "5.1 Demand Incentive Delivery",
		lead:      "The demand incentive shall be available to consumers in the form of an upfront reduced purchase price of hybrid and electric vehicles. The OEM shall be reimbursed by the Department of Heavy Industry.",
		highlight: "To ensure effective delivery, the cap on incentives for electric buses is set at 40% of the vehicle cost, subject to a maximum of ₹55 Lakhs per bus.",
		trailer:   "This limit is enforced to prevent market distortion while providing sufficient catalyst for adoption.",
	},
	"Battery Policy": {
		title:     "National_Battery_Swapping_Policy_Draft.pdf",
		fullTitle: "NITI_Aayog_Battery_Swapping_Policy_2024.pdf",
		pages:     28,
		category:  "Technical Standards",
		section:   "6.2 Interoperability Standards",
		lead:      "Batteries must be compatible with multiple vehicle types to ensure a seamless user experience. The policy mandates strict adherence to the BIS standards for connectors and communication protocols.",
		highlight: "Battery providers must ensure that their packs are cloud-connected and share real-time health data (SOH) with the central registry.",
		trailer:   "This data sharing is a prerequisite for generating Battery Swapping Credits (BSC) under the new fiscal scheme.",
	},
}

// vaultKeys is sorted so lookups do not depend on map order.
var vaultKeys = func() []string {
	keys := make([]string, 0, len(vault))
	for k := range vault {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}()

// VaultDocuments lists the keys of the documents the vault can open.
func VaultDocuments() []string {
	return append([]string(nil), vaultKeys...)
}

// LookupEvidence resolves a citation to the vault document whose key is
// contained in documentName. A zero page opens the document at its default page.
func LookupEvidence(documentName string, page int) (Evidence, error) {
	var key string
	for _, k := range vaultKeys {
		if strings.Contains(documentName, k) {
			key = k
			break
		}
	}
	if key == "" {
		return Evidence{}, fmt.Errorf("%w: %q", ErrNoEvidence, documentName)
	}
	doc := vault[key]
	if page == 0 {
		page = defaultPage
	}
	if page < 1 || page > doc.pages {
		return Evidence{}, fmt.Errorf("%w: %s has %d pages", ErrPageRange, key, doc.pages)
	}
	return Evidence{
		Key:       key,
		Title:     doc.title,
		FullTitle: doc.fullTitle,
		Pages:     doc.pages,
		Page:      page,
		Category:  doc.category,
		Section:   doc.section,
		Lead:      doc.lead,
		Highlight: doc.highlight,
		Trailer:   doc.trailer,
		Footer:    doc.title + " - version 2.1 - Internal Distribution Only",
	}, nil
}
