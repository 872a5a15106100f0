/*
Package cfsync keeps Cloudflare DNS records in sync with the host's public IP addresses.

Usage will always start with [cfsync.New],
which takes a [Config] naming the records to manage and the Cloudflare credentials.
Each call to [Client.Run] resolves the current public IPv4 and IPv6 addresses,
reads the zones and records visible to the credentials,
and creates, updates or deletes A and AAAA records until the provider matches.

The pieces of a run are exported individually:
[Match] pairs names with zones and existing records,
[Plan] decides what to do for each address family,
and [Execute] sends the resulting requests concurrently.

cfsync does not schedule itself. Run it from a timer or cron.
*/
package cfsync
