// Package config provides loading and environment overlay for tasq runtime
// configuration. It exposes a Default() baseline, Load() for JSON/YAML files
// and FromEnv() for TASQ_* overrides.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/tasq.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
