// Command fanout runs the nodes of the fanout demo cluster.
//
//	fanout compute --node-id node-0 --nodes node-0,node-1 --nats-url nats://localhost:4222
//	fanout client --nats-url nats://localhost:4222
//	fanout devices
//
// Without a NATS URL a node keeps everything in process; "compute --client"
// then drives the service from the same process. Prometheus metrics are
// served on --metrics-addr.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fanout failed: %v\n", err)
		os.Exit(1)
	}
}
