//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Command netstatectl is a diagnostic CLI over package kernelnet: it
// starts a Tracker against the live host, logs roam notifications as
// they arrive, and answers one-shot source-address/next-hop/enumerate
// queries, then exits. Grounded on the teacher's main.go: flag +
// flagx.ArgsFromEnv + rtx.Must bootstrap, Prometheus export on a
// separate port via prometheusx.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/hostnetstate/kernelnet"
	"github.com/hostnetstate/kernelnet/ifcache"
	"github.com/hostnetstate/kernelnet/klog"
)

var (
	promAddr   = flag.String("prom", ":9090", "Prometheus metrics export address and port.")
	roamDelay  = flag.Duration("roam-delay", 0, "Debounce window for roam notifications. 0 keeps the library default.")
	getTimeout = flag.Duration("broker-timeout", 0, "Per-attempt wait budget for route queries. 0 keeps the library default.")
	ignoreIf   = flagx.StringArray{}

	sourceFor = flag.String("source-for", "", "Print the source address the kernel would use to reach this destination, then exit.")
	nexthopOf = flag.String("nexthop-of", "", "Print the gateway the kernel would route this destination through, then exit.")
	enumerate = flag.Bool("enumerate", false, "Print every usable, up, non-loopback, non-virtual address on the host (IPv6 link-local excluded), then exit.")
	watch     = flag.Duration("watch", 0, "Keep running and log roam notifications for this long (0 disables watching).")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Var(&ignoreIf, "ignore-interface", "Interface name to treat as unusable (repeatable).")
}

func usable(ignored map[string]bool) func(name string) bool {
	return func(name string) bool { return !ignored[name] }
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not read args from environment variables")

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(context.Background())

	ignored := make(map[string]bool, len(ignoreIf))
	for _, name := range ignoreIf {
		ignored[name] = true
	}

	roamListener := func(addressChanged bool) {
		log.Printf("roam notification: address_changed=%v", addressChanged)
	}

	tr, err := kernelnet.New(kernelnet.Config{
		Logger:            klog.Standard{},
		IsInterfaceUsable: usable(ignored),
		RoamListener:      roamListener,
		RoamDelay:         *roamDelay,
		BrokerTimeout:     *getTimeout,
	})
	rtx.Must(err, "could not start kernelnet tracker")
	defer tr.Close()

	ranQuery := false

	if *sourceFor != "" {
		ranQuery = true
		runQuery("source-for", *sourceFor, tr.SourceAddr)
	}
	if *nexthopOf != "" {
		ranQuery = true
		runQuery("nexthop-of", *nexthopOf, tr.Nexthop)
	}
	if *enumerate {
		ranQuery = true
		printEnumeration(tr)
	}

	if *watch > 0 {
		log.Printf("watching for roam notifications for %v", *watch)
		time.Sleep(*watch)
		return
	}
	if !ranQuery {
		fmt.Fprintln(os.Stderr, "netstatectl: nothing to do; pass -source-for, -nexthop-of, -enumerate, or -watch")
		os.Exit(2)
	}
}

func runQuery(flagName, dest string, query func(context.Context, netip.Addr, netip.Addr) (netip.Addr, bool)) {
	addr, err := netip.ParseAddr(dest)
	if err != nil {
		rtx.Must(err, "invalid address for -%s", flagName)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, ok := query(ctx, addr, netip.Addr{})
	if !ok {
		fmt.Fprintf(os.Stderr, "%s %s: no answer from the kernel\n", flagName, dest)
		os.Exit(1)
	}
	fmt.Println(result)
}

func printEnumeration(tr *kernelnet.Tracker) {
	e := tr.Enumerate(ifcache.Regular)
	defer e.Close()
	var lines []string
	for {
		a, ok := e.Next()
		if !ok {
			break
		}
		lines = append(lines, a.String())
	}
	fmt.Println(strings.Join(lines, "\n"))
}
