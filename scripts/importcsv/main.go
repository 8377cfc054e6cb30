package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/cppla/poolchecker/config"
	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/utils"
)

func main() {
	var configPath string
	var csvPath string
	var poolName string
	var createDefault bool
	flag.StringVar(&configPath, "config", config.DefaultPath, "path to config file (json or yaml)")
	flag.StringVar(&csvPath, "file", "", "csv file with Timestamp,Weekday,Visitors columns")
	flag.StringVar(&poolName, "pool", services.DefaultPoolName, "name of the pool the rows belong to")
	flag.BoolVar(&createDefault, "create-default-pool", false, "create the default pool when it does not exist")
	flag.Parse()

	if csvPath == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := utils.InitLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := config.InitDatabase(cfg, &models.Pool{}, &models.VisitorRecord{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init db: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rc := utils.NewRedisClient(ctx, cfg)
	if rc != nil {
		defer rc.Close()
	}
	// imported rows invalidate the server's cached analytics of the pool
	cache := utils.NewCache(rc, 0)

	pools := services.NewPoolService(db, cache)
	visitors := services.NewVisitorService(db, cache, utils.Logger)
	importer := services.NewImportService(pools, visitors)

	var pool *models.Pool
	if createDefault && poolName == services.DefaultPoolName {
		pool, err = importer.EnsureDefaultPool(ctx)
	} else {
		pool, err = pools.GetByName(ctx, poolName)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve pool %q: %v\n", poolName, err)
		os.Exit(1)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open csv: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	res, err := importer.ImportCSV(ctx, f, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import csv: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("done: pool=%q total=%d added=%d skipped=%d invalid=%d\n",
		pool.Name, res.Total, res.Added, res.Skipped, res.Invalid)
}
