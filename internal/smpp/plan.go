package smpp

import (
	"fmt"
	"strings"
	"time"

	"github.com/cascadetel/smppgw/internal/platform/config"
)

// SessionDescriptor is the immutable, configuration-derived identity of one
// bound session. bind_count expansion happens here, so every descriptor
// corresponds to exactly one wire connection.
type SessionDescriptor struct {
	Key      string
	Operator string

	Host string
	Port int

	SystemID      string
	Password      string
	SystemType    string
	ServiceType   string
	SourceAddress string

	TPS             int
	HighPriorityPct int

	EnquireLinkInterval time.Duration
	ReconnectDelay      time.Duration
	SubmitTimeout       time.Duration
}

// Addr returns the host:port dial target.
func (d SessionDescriptor) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// BuildDescriptors expands the configured operators into session descriptors.
//
// An operator with multiple sessions must give each a uuid; a duplicate or
// missing key is a configuration error that aborts startup rather than letting
// the operator run half-configured.
func BuildDescriptors(cfg *config.Config) ([]SessionDescriptor, error) {
	defaults := cfg.SMPP.Defaults
	seen := make(map[string]string) // key -> operator

	var descriptors []SessionDescriptor
	for operatorID, operator := range cfg.SMPP.Operators {
		if len(operator.Sessions) == 0 {
			continue
		}

		multi := len(operator.Sessions) > 1
		for _, sess := range operator.Sessions {
			baseKey := strings.TrimSpace(sess.UUID)
			if baseKey == "" {
				if multi {
					return nil, fmt.Errorf(
						"operator %q has multiple sessions but session with system_id %q is missing uuid",
						operatorID, sess.SystemID)
				}
				baseKey = operatorID + ":" + sess.SystemID
			}

			bindCount := sess.BindCount
			if bindCount < 1 {
				bindCount = 1
			}

			systemType := sess.SystemType
			if systemType == "" {
				systemType = defaults.SystemType
			}
			tps := sess.TPS
			if tps < 1 {
				tps = 1
			}

			for i := 1; i <= bindCount; i++ {
				key := baseKey
				if bindCount > 1 {
					key = fmt.Sprintf("%s-%d", baseKey, i)
				}
				if owner, dup := seen[key]; dup {
					return nil, fmt.Errorf(
						"duplicate session key %q (operators %q and %q)", key, owner, operatorID)
				}
				seen[key] = operatorID

				descriptors = append(descriptors, SessionDescriptor{
					Key:                 key,
					Operator:            operatorID,
					Host:                operator.Host,
					Port:                operator.Port,
					SystemID:            sess.SystemID,
					Password:            sess.Password,
					SystemType:          systemType,
					ServiceType:         sess.ServiceType,
					SourceAddress:       sess.SourceAddress,
					TPS:                 tps,
					HighPriorityPct:     cfg.SMPP.HighPriorityPct,
					EnquireLinkInterval: defaults.EnquireLinkInterval,
					ReconnectDelay:      defaults.ReconnectDelay,
					SubmitTimeout:       defaults.SubmitTimeout,
				})
			}
		}
	}
	return descriptors, nil
}
