package domain

// RenewalThresholdDays is the remaining validity below which a certificate is renewed.
const RenewalThresholdDays = 30

// CertificateRecord is derived on every scan and never persisted.
type CertificateRecord struct {
	Domain        string
	Project       string
	Env           string
	Service       string
	DaysRemaining *int
}

// NeedsAction reports whether the record requires issuance or renewal.
func (r CertificateRecord) NeedsAction() bool {
	return r.DaysRemaining == nil || *r.DaysRemaining < RenewalThresholdDays
}

// CertificateAction is what reconciliation did for a domain.
type CertificateAction string

const (
	CertIssued  CertificateAction = "issued"
	CertRenewed CertificateAction = "renewed"
	CertSkipped CertificateAction = "skipped"
)

// CertificateOutcome is the per-domain result of a reconcile pass.
type CertificateOutcome struct {
	Domain        string
	Action        CertificateAction
	Success       bool
	DaysRemaining *int
	Err           error
}
