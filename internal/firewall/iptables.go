package firewall

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"grimm.is/ddnsfw/internal/logging"
)

// IPTablesPaths are probed in order for the iptables binary.
var IPTablesPaths = []string{"/usr/sbin/iptables", "/sbin/iptables", "/usr/bin/iptables"}

const (
	// Seconds iptables waits for the xtables lock before giving up.
	iptablesWait = "5"

	// iptables exit status for -C/-D on a rule that is not in the chain.
	exitRuleMissing = 1
	// iptables exit status for resource problems, including a held xtables lock.
	exitResourceProblem = 4

	// Bound on -D repetitions when a rule was inserted more than once.
	maxDuplicateDeletes = 16
)

// IPTablesOptions configures an IPTablesAdapter.
type IPTablesOptions struct {
	Binary   string // empty means probe IPTablesPaths
	Chain    string
	Protocol string
	Runner   CommandRunner
	Retry    *RetryConfig
	Logger   *logging.Logger
}

// IPTablesAdapter manages tagged rules with the iptables binary.
type IPTablesAdapter struct {
	bin      string
	chain    string
	protocol string
	runner   CommandRunner
	retry    RetryConfig
	logger   *logging.Logger
}

// FindIPTables returns the first executable iptables in IPTablesPaths.
func FindIPTables() (string, error) {
	for _, p := range IPTablesPaths {
		fi, err := os.Stat(p)
		if err == nil && !fi.IsDir() && fi.Mode()&0111 != 0 {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: iptables not found in %s", ErrUnavailable, strings.Join(IPTablesPaths, ", "))
}

// NewIPTablesAdapter creates an iptables backend.
func NewIPTablesAdapter(opts IPTablesOptions) (*IPTablesAdapter, error) {
	if opts.Binary == "" {
		bin, err := FindIPTables()
		if err != nil {
			return nil, err
		}
		opts.Binary = bin
	}
	if opts.Chain == "" {
		opts.Chain = "INPUT"
	}
	if opts.Protocol == "" {
		opts.Protocol = "tcp"
	}
	if opts.Runner == nil {
		opts.Runner = DefaultCommandRunner
	}
	retry := MutationRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("firewall")
	}

	return &IPTablesAdapter{
		bin:      opts.Binary,
		chain:    opts.Chain,
		protocol: opts.Protocol,
		runner:   opts.Runner,
		retry:    retry,
		logger:   opts.Logger,
	}, nil
}

// Name implements Adapter.
func (a *IPTablesAdapter) Name() string {
	return "iptables"
}

// ruleSpec is the match and target part shared by -C, -I and -D.
func (a *IPTablesAdapter) ruleSpec(r Rule) []string {
	return []string{
		"-s", r.IP.String() + "/32",
		"-p", a.protocol,
		"-m", a.protocol,
		"--dport", strconv.Itoa(r.Port),
		"-m", "comment",
		"--comment", Tag,
		"-j", "ACCEPT",
	}
}

func (a *IPTablesAdapter) run(ctx context.Context, op string, r Rule, extra ...string) error {
	args := []string{"-w", iptablesWait, op, a.chain}
	args = append(args, extra...)
	args = append(args, a.ruleSpec(r)...)
	return classify(a.runner.Run(ctx, a.bin, args...))
}

// classify marks lock contention as temporary and a missing binary as
// unavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if ExitCode(err) == exitResourceProblem {
		return WrapTemporary(err)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// ListTagged implements Adapter by parsing `iptables -S <chain>`.
func (a *IPTablesAdapter) ListTagged(ctx context.Context) ([]Rule, error) {
	out, err := a.runner.Output(ctx, a.bin, "-w", iptablesWait, "-S", a.chain)
	if err != nil {
		return nil, fmt.Errorf("list chain %s: %w", a.chain, classify(err))
	}

	var rules []Rule
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if r, ok := parseRuleLine(scanner.Text(), a.chain, a.protocol); ok {
			rules = append(rules, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("list chain %s: %w", a.chain, err)
	}
	return rules, nil
}

// Add implements Adapter. The -C probe makes an existing rule a success.
func (a *IPTablesAdapter) Add(ctx context.Context, r Rule) error {
	return Retry(ctx, a.retry, func() error {
		err := a.run(ctx, "-C", r)
		if err == nil {
			a.logger.Debug("rule already present", "rule", r.String())
			return nil
		}
		if ExitCode(err) != exitRuleMissing {
			return err
		}
		if err := a.run(ctx, "-I", r, "1"); err != nil {
			return err
		}
		a.logger.Debug("rule inserted", "rule", r.String(), "chain", a.chain)
		return nil
	})
}

// Remove implements Adapter. Every copy of the rule is deleted; a rule that
// is already gone is a success.
func (a *IPTablesAdapter) Remove(ctx context.Context, r Rule) error {
	for i := 0; i < maxDuplicateDeletes; i++ {
		err := Retry(ctx, a.retry, func() error {
			return a.run(ctx, "-D", r)
		})
		if err == nil {
			a.logger.Debug("rule deleted", "rule", r.String(), "chain", a.chain)
			continue
		}
		if ExitCode(err) == exitRuleMissing {
			return nil
		}
		return err
	}
	return fmt.Errorf("rule %s still present after %d deletes", r, maxDuplicateDeletes)
}

// parseRuleLine extracts a managed rule from one line of `iptables -S`.
// Lines are accepted only when the comment equals Tag exactly and the rule
// has the shape ruleSpec produces.
func parseRuleLine(line, chain, protocol string) (Rule, bool) {
	tok := splitRuleLine(line)
	if len(tok) < 2 || tok[0] != "-A" || tok[1] != chain {
		return Rule{}, false
	}

	var src, dport, proto, comment, target string
	for i := 2; i < len(tok); i++ {
		if tok[i] == "!" {
			return Rule{}, false
		}
		if i+1 >= len(tok) {
			break
		}
		switch tok[i] {
		case "-s", "--source":
			src = tok[i+1]
		case "--dport", "--destination-port":
			dport = tok[i+1]
		case "-p", "--protocol":
			proto = tok[i+1]
		case "--comment":
			comment = tok[i+1]
		case "-j", "--jump":
			target = tok[i+1]
		}
	}

	if comment != Tag || target != "ACCEPT" || proto != protocol {
		return Rule{}, false
	}

	host, ok := strings.CutSuffix(src, "/32")
	if !ok && strings.Contains(src, "/") {
		return Rule{}, false
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !ip.Is4() {
		return Rule{}, false
	}

	port, err := strconv.Atoi(dport)
	if err != nil || port < 1 || port > 65535 {
		return Rule{}, false
	}

	return Rule{IP: ip, Port: port}, true
}

// splitRuleLine splits an iptables -S line into words, honouring the double
// quotes iptables puts around comments that contain spaces.
func splitRuleLine(line string) []string {
	var (
		words   []string
		cur     strings.Builder
		inQuote bool
		inWord  bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && inQuote && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == '"':
			inQuote = !inQuote
			inWord = true
		case (c == ' ' || c == '\t') && !inQuote:
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}
