// Package rmsd compares two labeled point sets by the lowest RMSD reachable
// under a channel-preserving one-to-one correspondence.
//
// Each channel is an independent square assignment problem on squared
// distances, solved with the Hungarian method.
package rmsd
