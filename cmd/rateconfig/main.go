// Command rateconfig generates the signed rate-limit configuration
// artifact. Only administrators holding the deployment secret should
// run it: a file written with a different secret is rejected by the
// consumer at load time.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sicalops/overrideguard/pkg/config"
	"github.com/sicalops/overrideguard/pkg/ratelimit"
	"github.com/sicalops/overrideguard/pkg/secureconfig"
)

func main() {
	var (
		out      = flag.String("out", "rate_limit_config.json", "output path for the signed artifact")
		windows  = flag.String("windows", "hourly_limit:15:3600,daily_limit:30:86400", "comma-separated name:max:seconds window rules")
		hours    = flag.String("business-hours", "7-19", "allowed local-hour range start-end, empty to disable")
		timezone = flag.String("timezone", "Europe/Madrid", "time zone for business hours")
	)
	flag.Parse()

	cfg := config.Load()
	if cfg.EphemeralSecret {
		log.Printf("WARNING: %s is not set; the signature will not be verifiable by any other process", config.EnvSecretKey)
	}

	policy, err := buildPolicy(*windows, *hours, *timezone)
	if err != nil {
		log.Fatalf("invalid policy: %v", err)
	}

	loader := secureconfig.NewLoader(cfg.SecretKey)
	if err := loader.Save(policy, *out); err != nil {
		log.Fatalf("failed to save configuration: %v", err)
	}

	fmt.Printf("Signed configuration written to %s\n\n", *out)
	for _, w := range policy.Windows {
		fmt.Printf("  %s: %d operations per %d seconds\n", w.Name, w.MaxOperations, w.WindowSeconds)
	}
	if bh := policy.BusinessHours; bh != nil {
		fmt.Printf("  business hours: %02d:00-%02d:00 %s\n", bh.StartHour, bh.EndHour, bh.TimeZone)
	}
	fmt.Println()
	fmt.Println("The file is signed with HMAC-SHA256. Manual edits will be")
	fmt.Println("rejected by the consumer; rerun this tool to change policy.")
}

func buildPolicy(windowSpec, hoursSpec, tz string) (ratelimit.Policy, error) {
	var policy ratelimit.Policy

	for _, part := range strings.Split(windowSpec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return policy, fmt.Errorf("window %q: want name:max:seconds", part)
		}
		max, err := strconv.Atoi(fields[1])
		if err != nil || max <= 0 {
			return policy, fmt.Errorf("window %q: bad max operations", part)
		}
		secs, err := strconv.Atoi(fields[2])
		if err != nil || secs <= 0 {
			return policy, fmt.Errorf("window %q: bad window seconds", part)
		}
		policy.Windows = append(policy.Windows, ratelimit.Window{
			Name:          fields[0],
			MaxOperations: max,
			WindowSeconds: secs,
		})
	}
	if len(policy.Windows) == 0 {
		return policy, fmt.Errorf("at least one window rule is required")
	}

	if hoursSpec != "" {
		var start, end int
		if _, err := fmt.Sscanf(hoursSpec, "%d-%d", &start, &end); err != nil {
			return policy, fmt.Errorf("business hours %q: want start-end", hoursSpec)
		}
		if start < 0 || end > 24 || start >= end {
			return policy, fmt.Errorf("business hours %q: out of range", hoursSpec)
		}
		policy.BusinessHours = &ratelimit.BusinessHours{
			StartHour: start,
			EndHour:   end,
			TimeZone:  tz,
		}
	}

	return policy, nil
}

func init() {
	log.SetOutput(os.Stderr)
}
