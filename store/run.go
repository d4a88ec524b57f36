package store

import "strings"

// Run is one processed meeting.
type Run struct {
	ID          int32
	UID         string
	Title       string
	Status      string
	Mode        string
	Summary     string
	TicketCount int
	PageCount   int
	// Payload is the JSON encoded pipeline result.
	Payload   string
	CreatedTs int64
}

// FindRun is the find condition for runs. Status matches the stored
// status exactly or its prefix before ":", so "Error" finds
// "Error: <message>".
type FindRun struct {
	UID    *string
	Status *string
	Limit  *int
	Offset *int
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// StatusPrefixPattern returns the LIKE pattern (escape character `\`)
// matching statuses of the form "<status>: <detail>".
func StatusPrefixPattern(status string) string {
	return likeEscaper.Replace(status) + ":%"
}
