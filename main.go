package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/metrico/openlake/config"
	"github.com/metrico/openlake/fetch"
	handlers "github.com/metrico/openlake/handler"
	"github.com/metrico/openlake/ingest"
	"github.com/metrico/openlake/model"
	"github.com/metrico/openlake/router"
	"github.com/metrico/openlake/warehouse"
)

// initFlags initializes the command line flags
func initFlags() *model.CommandLineFlags {

	appFlags := &model.CommandLineFlags{}
	appFlags.Host = flag.String("host", "", "API host. Defaults to the config value")
	appFlags.Port = flag.String("port", "", "API port. Defaults to the config value")
	appFlags.Config = flag.String("config", "config.yaml", "Service configuration file")
	appFlags.Datasets = flag.String("datasets", "", "Dataset catalog file. Defaults to the config value")
	appFlags.Only = flag.String("only", "", "Comma-separated asset names to include")
	appFlags.Exclude = flag.String("exclude", "", "Comma-separated substrings of asset names to skip")
	appFlags.List = flag.Bool("list", false, "List detected assets without building the warehouse")
	appFlags.AsTables = flag.Bool("as-tables", false, "Register assets as tables instead of views")
	appFlags.NoWipe = flag.Bool("no-wipe", false, "Keep the existing warehouse file instead of rebuilding from scratch")
	flag.Parse()

	return appFlags
}

var appFlags *model.CommandLineFlags

func nameExcluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func setup() (*config.Datasets, *ingest.Resources, *fetch.Client) {
	config.InitConfig(*appFlags.Config)
	catalog := config.Config.Datasets
	if *appFlags.Datasets != "" {
		catalog = *appFlags.Datasets
	}
	ds, err := config.LoadDatasets(catalog)
	if err != nil {
		logrus.Fatalf("failed to load datasets: %v", err)
	}

	client := fetch.New(fetch.Config{
		AppToken: config.Config.Socrata.AppToken,
		Timeout:  config.Config.Socrata.Timeout(),
		Backoff:  config.Config.Socrata.Backoff(),
	})
	res, err := ingest.NewResources(client, ds.Paths.Raw, ds.Paths.Clean)
	if err != nil {
		logrus.Fatalf("failed to init storage layouts: %v", err)
	}
	return ds, res, client
}

func runIngest(ctx context.Context, ds *config.Datasets, res *ingest.Resources) {
	only := map[string]bool{}
	for _, n := range splitNames(*appFlags.Only) {
		only[n] = true
	}
	exclude := splitNames(*appFlags.Exclude)

	for _, a := range ds.Assets {
		if len(only) > 0 && !only[a.Name] {
			continue
		}
		if nameExcluded(a.Name, exclude) {
			continue
		}
		units, err := ingest.Units(a, res)
		if err != nil {
			logrus.Fatalf("invalid asset %s: %v", a.Name, err)
		}
		if err := ingest.RunUnits(ctx, units); err != nil {
			logrus.Fatalf("ingestion of %s failed: %v", a.Name, err)
		}
	}
}

func runWarehouse(ctx context.Context, ds *config.Datasets) {
	wh := warehouse.New(warehouse.Config{
		Layers: map[string]string{
			"raw":       ds.Paths.Raw,
			"clean":     ds.Paths.Clean,
			"analytics": ds.Paths.Analytics,
		},
		SearchOrder:   ds.SearchOrder,
		WarehousePath: ds.Paths.Warehouse,
		Assets:        ds.Assets,
	})
	opts := warehouse.Options{
		Only:     splitNames(*appFlags.Only),
		Exclude:  splitNames(*appFlags.Exclude),
		AsTables: *appFlags.AsTables,
		Wipe:     !*appFlags.NoWipe,
	}
	if *appFlags.List {
		dets, err := wh.Select(ctx, opts)
		if err != nil {
			logrus.Fatalf("detection failed: %v", err)
		}
		for _, d := range dets {
			fmt.Printf("%-30s %-10s %-13s %d files  %s\n", d.Asset, d.Layer, d.Kind, d.Files, d.Glob)
		}
		return
	}
	if _, err := wh.Build(ctx, opts); err != nil {
		logrus.Fatalf("warehouse build failed: %v", err)
	}
}

func serve(ds *config.Datasets, res *ingest.Resources) {
	router.RegisterStatusRoutes(&handlers.Handler{Datasets: ds, Resources: res})
	r := router.NewRouter()
	host := config.Config.Host
	if *appFlags.Host != "" {
		host = *appFlags.Host
	}
	port := config.Config.Port
	if *appFlags.Port != "" {
		port = *appFlags.Port
	}
	fmt.Printf("OpenLake API Running: %s:%s\n", host, port)
	if err := http.ListenAndServe(host+":"+port, r); err != nil {
		panic(err)
	}
}

func main() {
	cmd := "serve"
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}
	appFlags = initFlags()

	ds, res, client := setup()
	defer client.Close()
	ctx := context.Background()

	switch cmd {
	case "ingest":
		runIngest(ctx, ds, res)
	case "warehouse":
		runWarehouse(ctx, ds)
	case "serve":
		serve(ds, res)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected ingest, warehouse or serve)\n", cmd)
		os.Exit(1)
	}
}
