package audits

import "sort"

// Stats are the audit fields derived from its findings.
type Stats struct {
	Count      int
	Overall    *Severity
	BySeverity map[Severity]int
}

// DeriveStats counts findings and picks the highest severity. Overall is nil
// when there are no findings.
func DeriveStats(findings []Finding) Stats {
	st := Stats{BySeverity: map[Severity]int{}}
	for _, f := range findings {
		st.Count++
		st.BySeverity[f.Severity]++
		if st.Overall == nil || f.Severity.Rank() > st.Overall.Rank() {
			sev := f.Severity
			st.Overall = &sev
		}
	}
	return st
}

// SortFindings orders findings by severity, worst first, then by id.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := findings[i].Severity.Rank(), findings[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return findings[i].ID < findings[j].ID
	})
}
