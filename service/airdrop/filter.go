package airdrop

// Known marketplace escrow addresses. Tokens sent to these would land in an
// exchange's custody account rather than the listed owner's wallet, so they
// are excluded from every destination list.
var marketplaceEscrows = []string{
	"4pUQS4Jo2dsfWzt3VgHXy3H6RYnEDd11oWPiaM2rdAPw", // Alpha Art
	"F4ghBzHFNgJxV4wEQDchU5i7n4XWWMBSaq7CuswGiVsr", // DigitalEyes
	"BjaNzGdwRcFYeQGfuLYsc1BbaNRG1yxyWs1hZuGRT8J2", // Exchange Art
	"GUfCR9mK6azb9vcpsxgXyj7XRPAKJd4KMHTTVvtncGgp", // Magic Eden
	"1BWutmTvYPwDtmw9abTkS4Ssr8no61spGAvW1X6NDix",  // Magic Eden v2
	"3D49QorJyNaL4rcpiynbuS3pRH4Y7EXEM6v6ZGaqfFGK", // Solanart
	"4zdNGgAtFsW1cQgHqkiWyRsxaAgxrSRRynnuunxzjxue", // Tensor
}

// Exclusions is an immutable membership set of addresses that must never
// receive a transfer. It is built once at startup and injected wherever a
// destination list is filtered.
type Exclusions struct {
	set map[string]struct{}
}

// NewExclusions builds the exclusion set from the built-in marketplace
// escrow table plus any extra addresses (typically a user-provided
// exclusion list file).
func NewExclusions(extra ...string) *Exclusions {
	set := make(map[string]struct{}, len(marketplaceEscrows)+len(extra))
	for _, a := range marketplaceEscrows {
		set[a] = struct{}{}
	}
	for _, a := range extra {
		set[a] = struct{}{}
	}
	return &Exclusions{set: set}
}

// Contains reports whether the address is excluded.
func (e *Exclusions) Contains(address string) bool {
	_, ok := e.set[address]
	return ok
}

// FilterTargets returns the targets whose wallet is not excluded,
// preserving input order.
func (e *Exclusions) FilterTargets(targets []TransferTarget) []TransferTarget {
	out := make([]TransferTarget, 0, len(targets))
	for _, t := range targets {
		if !e.Contains(t.Wallet.String()) {
			out = append(out, t)
		}
	}
	return out
}

// FilterAddresses returns the addresses not in the exclusion set,
// preserving input order.
func (e *Exclusions) FilterAddresses(addresses []string) []string {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if !e.Contains(a) {
			out = append(out, a)
		}
	}
	return out
}
