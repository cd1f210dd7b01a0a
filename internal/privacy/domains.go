// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package privacy enforces the access boundary between the three
// audiences of a subject's memory: the subject's own relationship,
// institutional staff and supervision. The check happens before any
// data is touched, so a denied caller learns nothing about what exists.
package privacy

import (
	"fmt"

	"github.com/tejzpr/munin-mcp/internal/database"
)

// Access domains
const (
	// DomainRelational is the subject's own conversational relationship:
	// full read and write access to their memory content.
	DomainRelational = "RELATIONAL"
	// DomainInstitutional is operational staff: maintenance operations
	// and aggregates, never memory content.
	DomainInstitutional = "INSTITUTIONAL"
	// DomainSupervision is oversight: content-free summaries only
	DomainSupervision = "SUPERVISION"
)

// ValidDomains returns all valid access domains
func ValidDomains() []string {
	return []string{DomainRelational, DomainInstitutional, DomainSupervision}
}

// IsValidDomain checks if a domain is valid
func IsValidDomain(domain string) bool {
	for _, valid := range ValidDomains() {
		if domain == valid {
			return true
		}
	}
	return false
}

// DomainForRole maps an authenticated user role to its access domain
func DomainForRole(role string) (string, error) {
	switch role {
	case database.RoleSubject:
		return DomainRelational, nil
	case database.RoleStaff:
		return DomainInstitutional, nil
	case database.RoleAuditor:
		return DomainSupervision, nil
	default:
		return "", fmt.Errorf("no access domain for role: %s", role)
	}
}

// Operations gated by the privacy boundary
const (
	OpReadContent  = "read_content"
	OpWriteContent = "write_content"
	OpResolve      = "resolve_contradiction"
	OpNegotiate    = "negotiate_remembrance"
	OpCompress     = "compress"
	OpVerify       = "verify"
	OpSummary      = "supervision_summary"
	OpExport       = "export"
)

// permission matrix: domain -> operations it may perform
var permitted = map[string]map[string]bool{
	DomainRelational: {
		OpReadContent:  true,
		OpWriteContent: true,
		OpResolve:      true,
		OpNegotiate:    true,
		OpCompress:     true,
		OpVerify:       true,
		OpSummary:      true,
		OpExport:       true,
	},
	DomainInstitutional: {
		OpCompress: true,
		OpVerify:   true,
		OpSummary:  true,
	},
	DomainSupervision: {
		OpSummary: true,
	},
}
