/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tzresolver maintains the candidate-zone list for the currently
// registered Mobile Country Code and guesses the best Olson zone among the
// candidates given a UTC time, a GMT offset, and a DST flag.
package tzresolver

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clockd/clockd/tzutil"
)

// CityRecord is one {country, zone} pair out of the city-info database. The
// real database (SQLite-backed on the original device) is an external
// collaborator per spec.md §1; we only need its iteration contract.
type CityRecord struct {
	Country string
	Zone    string
}

// CityInfoSource iterates every known city record. Implementations may stop
// early by returning false from the callback's continuation value, matching
// cityinfo_foreach's early-exit protocol.
type CityInfoSource interface {
	ForEach(func(CityRecord) bool) error
}

// Resolver owns the candidate-zone list and last-seen MCC.
type Resolver struct {
	mappingPath string
	cities      CityInfoSource

	mcc        int
	candidates []string
	subscribed bool
}

// New constructs a Resolver that reads the MCC→country mapping file at
// mappingPath and consults cities for country→zone records.
func New(mappingPath string, cities CityInfoSource) *Resolver {
	return &Resolver{mappingPath: mappingPath, cities: cities}
}

// Candidates returns the current candidate-zone list, most-recently-added
// first (the original prepends).
func (r *Resolver) Candidates() []string {
	out := make([]string, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// MCC returns the last-seen Mobile Country Code, 0 meaning "not registered".
func (r *Resolver) MCC() int {
	return r.mcc
}

// Subscribed reports whether the registration-status subscription is
// currently installed.
func (r *Resolver) Subscribed() bool {
	return r.subscribed
}

// EnsureSubscription implements ensure_subscription: idempotently install or
// remove interest in the registration-status signal based on autosync.
// Installation/removal is performed by the caller (dispatch owns the bus
// connection); this just tracks and reports the desired state transition.
func (r *Resolver) EnsureSubscription(autosync bool) (shouldInstall, shouldRemove bool) {
	if autosync && !r.subscribed {
		r.subscribed = true
		return true, false
	}
	if !autosync && r.subscribed {
		r.subscribed = false
		return false, true
	}
	return false, false
}

// OnRegistrationStatus implements on_registration_reply: status>2 means not
// registered (clears the MCC cache); otherwise, if the MCC actually changed,
// rebuild the candidate list. Returns true if the candidate list was
// rebuilt, so the caller knows whether to chase a fresh time-info request.
func (r *Resolver) OnRegistrationStatus(status uint8, mcc uint32) (changed bool) {
	if status > 2 {
		r.mcc = 0
		return false
	}
	if int(mcc) == r.mcc {
		return false
	}
	r.mcc = int(mcc)
	r.rebuildCandidates()
	return true
}

func (r *Resolver) rebuildCandidates() {
	r.candidates = nil

	country, err := FindCountryByMCC(r.mappingPath, r.mcc)
	if err != nil {
		log.WithError(err).Debugf("tzresolver: no country found for mcc=%d", r.mcc)
		return
	}

	if r.cities == nil {
		return
	}

	err = r.cities.ForEach(func(rec CityRecord) bool {
		if rec.Country != country || rec.Zone == "" {
			return true
		}
		r.prependIfNotDup(rec.Zone)
		return true
	})
	if err != nil {
		log.WithError(err).Warn("tzresolver: city-info iteration failed")
	}
}

// prependIfNotDup implements mcc_tz_prepend_tz_name_if_not_dup: semantic
// (not just string) dedup via ZonesEquivalent.
func (r *Resolver) prependIfNotDup(zone string) {
	for _, existing := range r.candidates {
		if tzutil.ZonesEquivalent(existing, zone) {
			return
		}
	}
	r.candidates = append([]string{zone}, r.candidates...)
}

// IsZoneInCountryList implements is_zone_in_country_list: true iff the
// alphabetic suffix of zone (skipping any leading punctuation such as ':')
// string-equals some candidate.
func IsZoneInCountryList(candidates []string, zone string) bool {
	i := 0
	for i < len(zone) && !isAlpha(zone[i]) {
		i++
	}
	if i == len(zone) {
		return false
	}
	suffix := zone[i:]
	for _, c := range candidates {
		if c == suffix {
			return true
		}
	}
	return false
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// GuessZone implements mcc_tz_guess_tz_for_country_by_dst_and_offset: find
// every candidate whose local gmtoff matches gmtOffsetSec and whose isdst
// matches dst (or dst is the sentinel 100, meaning "don't care"). Exactly
// one match wins outright; zero matches fall back to the sole candidate if
// the list has exactly one element; more than one match logs a warning and
// takes the first.
func (r *Resolver) GuessZone(utc time.Time, dst int, gmtOffsetSec int) (string, bool) {
	return GuessZone(r.candidates, utc, dst, gmtOffsetSec)
}

// GuessZone is the free-function form of Resolver.GuessZone, exposed
// separately so it can be unit tested against a literal candidate list
// without constructing a Resolver.
func GuessZone(candidates []string, utc time.Time, dst int, gmtOffsetSec int) (string, bool) {
	var first string
	count := 0

	for _, zone := range candidates {
		local, err := tzutil.LocaltimeIn(utc, zone)
		if err != nil {
			log.WithError(err).Debugf("tzresolver: localtime_r_in(%s) failed", zone)
			continue
		}
		_, gmtoff := local.Zone()
		isDST := tzutil.GetDST(utc, zone)

		if gmtoff != gmtOffsetSec {
			continue
		}
		if dst != 100 && isDST != (dst != 0) {
			continue
		}

		if count == 0 {
			first = zone
		}
		count++
	}

	switch {
	case count == 1:
		return first, true
	case count == 0 && len(candidates) == 1:
		return candidates[0], true
	case count == 0:
		return "", false
	default:
		log.Warn("tzresolver: multiple TZ matches, using the first found")
		return first, true
	}
}

// FindCountryByMCC scans the tab-delimited MCC mapping file for a record
// whose three-digit MCC field equals mcc, returning its country name.
// Mirrors mcc_tz_find_country_by_mcc/mcc_tz_parse_mcc_mapping_line.
func FindCountryByMCC(path string, mcc int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("tzresolver: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		foundMCC, country, ok := parseMCCMappingLine(line)
		if !ok {
			log.Debugf("tzresolver: can't parse line: %s", line)
			continue
		}
		if foundMCC == mcc {
			return country, nil
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return "", err
	}
	return "", fmt.Errorf("tzresolver: mcc %d not found in %s", mcc, path)
}

// parseMCCMappingLine parses one "<3-digit MCC>\t<country>\r?" record.
func parseMCCMappingLine(line string) (mcc int, country string, ok bool) {
	idx := strings.LastIndexByte(line, '\t')
	if idx < 0 {
		return 0, "", false
	}

	mccField := line[:idx]
	countryField := strings.TrimRight(line[idx+1:], "\r")

	if len(mccField) < 3 {
		return 0, "", false
	}

	n, err := strconv.Atoi(mccField[:3])
	if err != nil || n == 0 || countryField == "" {
		return 0, "", false
	}

	return n, countryField, true
}
