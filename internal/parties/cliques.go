// Package parties implements spec.md's §4.J component: maximal-clique
// "party" detection over the friend graph restricted to currently
// connected players.
package parties

import "macagent/internal/match"

// Party is one maximal clique of mutually-declared friends among the
// currently connected players.
type Party []match.SteamID

// Detect computes the maximal cliques of the friendship graph induced by
// players.Connected, using players.AreFriends as the edge predicate
// (§4.J: "friends iff one side's friendslist explicitly contains the
// other"). Singleton and empty cliques are never returned. Expected input
// sizes are small (<~30 connected players), so a direct Bron-Kerbosch
// implementation is used rather than an approximate/greedy one.
func Detect(players *match.Players) []Party {
	if players == nil || len(players.Connected) < 2 {
		return nil
	}

	nodes := append([]match.SteamID(nil), players.Connected...)
	adjacency := buildAdjacency(players, nodes)

	var cliques [][]match.SteamID
	bronKerbosch(nil, asSet(nodes), make(map[match.SteamID]struct{}), adjacency, &cliques)

	out := make([]Party, 0, len(cliques))
	for _, c := range cliques {
		if len(c) < 2 {
			continue
		}
		out = append(out, Party(c))
	}
	return out
}

// buildAdjacency returns, for each node, the set of connected peers that
// are friends with it under the induced-edge rule: a and b are adjacent
// if either player's friendslist names the other.
func buildAdjacency(players *match.Players, nodes []match.SteamID) map[match.SteamID]map[match.SteamID]struct{} {
	adj := make(map[match.SteamID]map[match.SteamID]struct{}, len(nodes))
	for _, n := range nodes {
		adj[n] = make(map[match.SteamID]struct{})
	}
	for i, a := range nodes {
		for _, b := range nodes[i+1:] {
			if players.AreFriends(a, b) || players.AreFriends(b, a) {
				adj[a][b] = struct{}{}
				adj[b][a] = struct{}{}
			}
		}
	}
	return adj
}

func asSet(nodes []match.SteamID) map[match.SteamID]struct{} {
	set := make(map[match.SteamID]struct{}, len(nodes))
	for _, n := range nodes {
		set[n] = struct{}{}
	}
	return set
}

// bronKerbosch enumerates maximal cliques of the graph described by adj,
// classic recursive form with candidate set P and excluded set X.
func bronKerbosch(r []match.SteamID, p, x map[match.SteamID]struct{}, adj map[match.SteamID]map[match.SteamID]struct{}, out *[][]match.SteamID) {
	if len(p) == 0 && len(x) == 0 {
		if len(r) > 0 {
			*out = append(*out, append([]match.SteamID(nil), r...))
		}
		return
	}

	pivot := choosePivot(p, x)
	candidates := make([]match.SteamID, 0, len(p))
	for v := range p {
		if _, excluded := adj[pivot][v]; excluded {
			continue
		}
		candidates = append(candidates, v)
	}

	for _, v := range candidates {
		neighbors := adj[v]
		nextP := intersect(p, neighbors)
		nextX := intersect(x, neighbors)

		bronKerbosch(append(r, v), nextP, nextX, adj, out)

		delete(p, v)
		x[v] = struct{}{}
	}
}

func choosePivot(p, x map[match.SteamID]struct{}) match.SteamID {
	for v := range p {
		return v
	}
	for v := range x {
		return v
	}
	return 0
}

func intersect(set map[match.SteamID]struct{}, neighbors map[match.SteamID]struct{}) map[match.SteamID]struct{} {
	out := make(map[match.SteamID]struct{})
	for v := range set {
		if _, ok := neighbors[v]; ok {
			out[v] = struct{}{}
		}
	}
	return out
}
