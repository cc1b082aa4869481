package buildconfig

import (
	"sort"
	"strings"
)

// Rules returns the proxy rules ordered longest prefix first, then by prefix.
// The dev server tries rules in declaration order, so rendering them in this
// order makes its first match the longest match.
func (c *Config) Rules() []Rule {
	rules := make([]Rule, 0, len(c.Server.Proxy))
	for prefix, rule := range c.Server.Proxy {
		rules = append(rules, Rule{Prefix: prefix, ProxyRule: rule})
	}
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].Prefix) != len(rules[j].Prefix) {
			return len(rules[i].Prefix) > len(rules[j].Prefix)
		}
		return rules[i].Prefix < rules[j].Prefix
	})
	return rules
}

// Route returns the origin a request path is forwarded to and the prefix that
// matched. A prefix matches any path that begins with it, as the dev server
// does; the longest matching prefix wins. ok is false when the request is
// served by the dev server itself.
func (c *Config) Route(path string) (origin, prefix string, ok bool) {
	rule, ok := c.Match(path)
	if !ok {
		return "", "", false
	}
	return rule.Target, rule.Prefix, true
}

// Match returns the rule Route would use for path.
func (c *Config) Match(path string) (Rule, bool) {
	for _, rule := range c.Rules() {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Shadowed reports every declared prefix that begins with another declared
// prefix. Under first-match routing the shorter one wins whenever it is
// declared first, so overlapping prefixes make routing depend on order.
func (c *Config) Shadowed() []Shadow {
	rules := c.Rules()
	var out []Shadow
	for _, long := range rules {
		for _, short := range rules {
			if long.Prefix != short.Prefix && strings.HasPrefix(long.Prefix, short.Prefix) {
				out = append(out, Shadow{Prefix: long.Prefix, By: short.Prefix})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Prefix != out[j].Prefix {
			return out[i].Prefix < out[j].Prefix
		}
		return out[i].By < out[j].By
	})
	return out
}
