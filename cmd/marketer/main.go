// Command marketer runs onboarding stages and publish sweeps from the shell, and follows a
// stage run the way the web client does.
package main

import "os"

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		os.Exit(1)
	}
}
