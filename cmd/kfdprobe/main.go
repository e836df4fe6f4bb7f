/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package main

import (
	"fmt"

	"github.com/joho/godotenv"

	"github.com/Helios-Labs/kfdhost/cmd/kfdprobe/app"
	"github.com/Helios-Labs/kfdhost/pkg/appmain"
	"github.com/Helios-Labs/kfdhost/pkg/sentry"
)

// Build-time version injection
var (
	Version   string = "dev"
	SentryDsn string
)

func main() {
	godotenv.Load()

	name := "kfdprobe"
	config := appmain.Config{
		Name:    name,
		Version: Version,

		SentryConfig: sentry.ClientOptions{
			Dsn:     SentryDsn,
			Release: fmt.Sprint(name, "@", Version),
		},
	}

	appmain.Run(config, app.Run)
}
