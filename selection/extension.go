package selection

// The selection service API version, checked against a card extension
// each time PrepareSelectionWith uses it. Bumped on incompatible changes to Selector, Request,
// or the Pipeline contract.
const (
	ServiceAPIVersionMajor = 1
	ServiceAPIVersionMinor = 0
)

// CardExtension is a domain-specific builder that turns a high-level
// Selector into a ready-to-run selection Request (select APDU plus
// optional follow-up APDUs). The pipeline invokes it as a black box: it
// never inspects what the extension put in the Request.
type CardExtension interface {
	// CreateCardSelection builds the Request the pipeline will run for
	// selector.
	CreateCardSelection(selector Selector) (Request, error)

	// CheckServiceVersion is called with the service's API version before
	// the extension is used; the extension returns an error if it was
	// built against an incompatible one.
	CheckServiceVersion(major, minor int) error
}

// PrepareSelectionWith verifies ext against the service API version, asks
// it to build the Request for selector, and appends the result to the
// scenario.
func (p *Pipeline) PrepareSelectionWith(ext CardExtension, selector Selector) error {
	if err := ext.CheckServiceVersion(ServiceAPIVersionMajor, ServiceAPIVersionMinor); err != nil {
		return err
	}
	req, err := ext.CreateCardSelection(selector)
	if err != nil {
		return err
	}
	return p.PrepareSelection(req)
}
