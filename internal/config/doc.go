// Package config resolves bootz toolchain options.
//
// Options come from four sources, highest precedence first: command line
// flags, the configuration file, environment variables and built-in
// defaults. The configuration file defaults to bootz.config in the working
// directory and may be written as JSON, YAML or TOML:
//
//	{
//	  "outputDirectory": "dist",
//	  "entries": {
//	    "client": "./src/platforms/client/index.tsx",
//	    "server": ["./src/platforms/server"]
//	  },
//	  "tsConfig": "tsconfig.json",
//	  "inspect": false
//	}
//
// # Usage
//
//	opts, err := config.NewLoader(logger).Load(config.LoadOptions{
//	    ConfigFile: "bootz.config",
//	    Flags:      cmd.Flags(),
//	})
//	if err != nil {
//	    return err
//	}
//	build, err := opts.Resolve()
package config
