package bootstrap

import (
	"github.com/kbukum/stagepipe/config"
)

// Config is the constraint for application configuration types. Any struct
// that embeds config.ServiceConfig by value satisfies it through promoted
// methods; most override ApplyDefaults and Validate to cover their own
// sections and call the embedded ones first.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
