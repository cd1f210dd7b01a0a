// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package privacy

import (
	"fmt"

	"go.uber.org/zap"
)

// ViolationError is returned when an access domain attempts an operation
// it is not permitted. The message names only the domain and operation,
// never what the operation would have returned.
type ViolationError struct {
	Domain    string
	Operation string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("domain %s may not perform %s", e.Domain, e.Operation)
}

// Guard checks operations against the permission matrix. Every gated
// handler calls Authorize before touching the store.
type Guard struct {
	logger *zap.Logger
}

// NewGuard creates a privacy guard
func NewGuard(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{logger: logger}
}

// Authorize returns a ViolationError unless the domain may perform the
// operation. Denials are logged; the subject whose data was asked for
// is never part of the log line.
func (g *Guard) Authorize(domain, operation string) error {
	if !IsValidDomain(domain) {
		g.logger.Warn("access attempt from unknown domain",
			zap.String("domain", domain), zap.String("operation", operation))
		return &ViolationError{Domain: domain, Operation: operation}
	}
	if !permitted[domain][operation] {
		g.logger.Warn("access denied",
			zap.String("domain", domain), zap.String("operation", operation))
		return &ViolationError{Domain: domain, Operation: operation}
	}
	return nil
}

// Allowed reports the operations a domain may perform
func (g *Guard) Allowed(domain string) []string {
	ops := permitted[domain]
	allowed := make([]string, 0, len(ops))
	for _, op := range []string{OpReadContent, OpWriteContent, OpResolve, OpNegotiate, OpCompress, OpVerify, OpSummary, OpExport} {
		if ops[op] {
			allowed = append(allowed, op)
		}
	}
	return allowed
}
