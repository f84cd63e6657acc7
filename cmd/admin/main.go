package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/availwatch/internal/admin"
	"github.com/dmitrijs2005/availwatch/internal/buildinfo"
	"github.com/dmitrijs2005/availwatch/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := admin.Run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}

}
