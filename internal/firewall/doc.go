// Package firewall lists, adds and removes the tagged access rules ddnsfw owns.
//
// A managed rule allows one IPv4 source address to reach one destination
// port and carries the [Tag] so it can be told apart from every other rule
// in the chain. The package never reads or touches untagged rules.
//
// Two backends implement [Adapter]:
//
//   - [IPTablesAdapter] shells out to iptables through a [CommandRunner].
//     Adds check with -C before inserting at position 1; removes treat
//     "no such rule" as success.
//   - [NFTablesAdapter] talks netlink through an [NFTablesConn] and keeps
//     the tag in rule user data.
//
// Both backends make Add and Remove idempotent, which is what lets an
// interrupted pass be re-run from scratch.
package firewall
