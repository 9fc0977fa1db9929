// Package autoload initializes the global logger from the LOGGER_* environment
// on import. Import for side effects only:
//
//	import _ "github.com/finserve-labs/loanflow/pkg/logger/autoload"
package autoload

import (
	"github.com/kelseyhightower/envconfig"

	logx "github.com/finserve-labs/loanflow/pkg/logger"
)

func init() {
	var cfg logx.Config
	if err := envconfig.Process("LOGGER", &cfg); err != nil {
		logx.Init()
		return
	}
	logx.Init(cfg)
}
