package main

import (
	"flag"

	"kyri56xcaesar/teamcore/internal/api"
)

func main() {
	conf := flag.String("conf", ".env", "path to the env configuration file")
	seed := flag.Bool("seed", false, "populate an empty database with demo data before serving")
	flag.Parse()

	api.InitAndServe(*conf, *seed)
}
