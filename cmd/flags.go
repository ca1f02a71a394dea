package cmd

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each named flag to a configuration key so that a flag
// given on the command line overrides the file and the environment.
// Flags missing from fs are ignored.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	fs.VisitAll(func(f *pflag.Flag) {
		if key, ok := keys[f.Name]; ok {
			viper.BindPFlag(key, f)
		}
	})
}
