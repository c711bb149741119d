// Package crawler defines the types and interfaces shared by the harvesting
// components: directions and planned fetches, listing entries and page
// outcomes, cycle intensity and reports, and the Fetcher, Uplink, ReportSink,
// Pacer, Clock and IDGenerator seams.
package crawler
