package decision

import "strconv"

// normalize implements step 2 of spec.md §4.4: validate types and
// required fields, stripping anything malformed. It never mutates the
// caller's Request; it either returns a clean copy or a reason string
// suitable for the recorded "malformed_request" DENY.
//
// Unknown-key stripping (spec.md §4.4) happens upstream, at the JSON
// boundary that decodes into Request; by the time a Request reaches
// here it is already typed, so this step validates values rather than
// shape.
func normalize(req Request) (Request, string, bool) {
	if req.Actor == "" {
		return Request{}, "missing actor", false
	}
	if req.Action == "" {
		return Request{}, "missing action", false
	}
	if req.RiskHint < 1 || req.RiskHint > 5 {
		return Request{}, "risk_hint " + strconv.Itoa(req.RiskHint) + " out of range [1,5]", false
	}

	clean := req
	if clean.DataClasses != nil {
		seen := make(map[string]bool, len(clean.DataClasses))
		deduped := make([]string, 0, len(clean.DataClasses))
		for _, dc := range clean.DataClasses {
			if dc == "" || seen[dc] {
				continue
			}
			seen[dc] = true
			deduped = append(deduped, dc)
		}
		clean.DataClasses = deduped
	}
	if clean.Context == nil {
		clean.Context = map[string]interface{}{}
	}
	return clean, "", true
}
