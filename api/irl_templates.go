package api

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// Built-in request list templates. Kept as YAML so the catalog stays easy to
// review and extend without touching handler code.
const irlTemplateYAML = `
standard:
  - category: Corporate
    description: Certificate of incorporation, bylaws, and amendments
    priority: high
  - category: Corporate
    description: Cap table and shareholder agreements
    priority: high
  - category: Financials
    description: Audited financial statements, last three fiscal years
    priority: high
  - category: Financials
    description: Monthly management accounts, trailing twenty-four months
    priority: high
  - category: Financials
    description: Revenue by customer, product, and geography
    priority: medium
  - category: Legal
    description: Material contracts and customer agreements over threshold
    priority: high
  - category: Legal
    description: Pending or threatened litigation summary
    priority: medium
  - category: HR
    description: Organization chart and key employee agreements
    priority: medium
  - category: Technology
    description: IP register, patents, and open source usage policy
    priority: medium
financial:
  - category: Financials
    description: Audited financial statements, last three fiscal years
    priority: high
  - category: Financials
    description: Quality of earnings adjustments and one-time items
    priority: high
  - category: Financials
    description: Debt schedule and covenant compliance certificates
    priority: high
  - category: Financials
    description: Working capital detail by month
    priority: medium
  - category: Financials
    description: Budget versus actuals for the current fiscal year
    priority: medium
`

type irlTemplateItem struct {
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	Priority    string `yaml:"priority"`
}

var irlTemplates map[string][]irlTemplateItem

func init() {
	if err := yaml.Unmarshal([]byte(irlTemplateYAML), &irlTemplates); err != nil {
		panic("invalid IRL template catalog: " + err.Error())
	}
}

// irlTemplateNames lists available templates for error messages.
func irlTemplateNames() []string {
	names := make([]string, 0, len(irlTemplates))
	for name := range irlTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
