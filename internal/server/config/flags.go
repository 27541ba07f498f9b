package config

import (
	"flag"
	"os"

	"github.com/ABCWORK9/mintydoc/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string         HTTP bind address (e.g., ":8080")
//	-g string         gRPC health bind address
//	-d string         PostgreSQL DSN ("" for the in-memory store)
//	-s string         operator JWT secret key
//	-b string         S3 bucket name
//	-e string         S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-u string         S3 root user
//	-p string         S3 root password
//	-r string         S3 region
//	-rpc string       chain RPC endpoint (websocket)
//	-contract string  payment contract address
//	-chain-id int     chain id
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with -c/-config and -env-file.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-g", "-d", "-s", "-b", "-e", "-u", "-p", "-r", "-rpc", "-contract", "-chain-id",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run the HTTP API")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to run gRPC health")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "operator token secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Region, "r", config.S3Region, "S3 region")
	fs.StringVar(&config.RPCURL, "rpc", config.RPCURL, "chain RPC endpoint")
	fs.StringVar(&config.ContractAddress, "contract", config.ContractAddress, "payment contract address")
	fs.Int64Var(&config.ChainID, "chain-id", config.ChainID, "chain id")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
