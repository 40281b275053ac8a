package project

import "fmt"

// LookupKind identifies which entity class a failed lookup was for.
type LookupKind string

const (
	KindExperiment LookupKind = "experiment"
	KindGroup      LookupKind = "group"
	KindAudience   LookupKind = "audience"
	KindVariation  LookupKind = "variation"
	KindEvent      LookupKind = "event"
	KindAttribute  LookupKind = "attribute"
)

// LookupError is the typed error reported when a key or id is not present in
// the datafile. It is handed to the error-reporting collaborator; lookups
// themselves return nil to the caller and never propagate it.
type LookupError struct {
	Kind  LookupKind
	Value string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %q is not in datafile", e.Kind, e.Value)
}
