// Command routerctl pins the CLI exit-code contract (status/complete/
// health, exit codes 0-4) around the router library; see the package
// comment in main.go for the commands it exposes and why it is kept
// deliberately thin rather than grown into a transport server.
package main
