package server

import (
	"sort"
	"strconv"

	"github.com/raniellyferreira/redis-inmemory-server/geo"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// Positions live in sorted sets, scored by their geohash

func geoaddCommand(c *call) protocol.Value {
	var nx, xx, ch bool
	i := 1
options:
	for ; i < len(c.args); i++ {
		switch {
		case equalFold(c.args[i], "NX"):
			nx = true
		case equalFold(c.args[i], "XX"):
			xx = true
		case equalFold(c.args[i], "CH"):
			ch = true
		default:
			break options
		}
	}
	triples := c.args[i:]
	if len(triples) == 0 || len(triples)%3 != 0 {
		return errSyntax
	}
	if nx && xx {
		return protocol.ErrorValue("ERR XX and NX options at the same time are not compatible")
	}

	points := make([]geo.Point, len(triples)/3)
	for j := range points {
		lon, ok1 := parseFloat(triples[3*j])
		lat, ok2 := parseFloat(triples[3*j+1])
		if !ok1 || !ok2 {
			return errNotFloat
		}
		points[j] = geo.Point{Lon: lon, Lat: lat}
		if err := points[j].Validate(); err != nil {
			return errorReply(err)
		}
	}

	store := c.srv.store
	key := c.arg(0)
	z, err := store.ZSetFor(key)
	if err != nil {
		return errorReply(err)
	}
	added, changed := 0, 0
	for j, p := range points {
		member := string(triples[3*j+2])
		score := float64(geo.Encode(p))
		old, exists := z.Score(member)
		if (nx && exists) || (xx && !exists) {
			continue
		}
		if !exists {
			added++
		} else if old != score {
			changed++
		}
		z.Add(member, score)
	}
	if added+changed > 0 {
		store.Touch(key)
	}
	store.DeleteIfEmpty(key)

	if ch {
		return protocol.Integer(int64(added + changed))
	}
	return protocol.Integer(int64(added))
}

func geoposCommand(c *call) protocol.Value {
	z, err := c.srv.store.ZSet(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	out := make([]protocol.Value, len(c.args)-1)
	for i, m := range c.args[1:] {
		var score float64
		ok := false
		if z != nil {
			score, ok = z.Score(string(m))
		}
		if !ok {
			out[i] = protocol.NullArray()
			continue
		}
		p := geo.Decode(uint64(score))
		out[i] = protocol.Array(protocol.Bulk(formatFloat(p.Lon)), protocol.Bulk(formatFloat(p.Lat)))
	}
	return protocol.Array(out...)
}

func geodistCommand(c *call) protocol.Value {
	factor := 1.0
	switch len(c.args) {
	case 3:
	case 4:
		f, err := geo.UnitFactor(c.arg(3))
		if err != nil {
			return errorReply(err)
		}
		factor = f
	default:
		return errSyntax
	}
	z, err := c.srv.store.ZSet(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if z == nil {
		return protocol.NullBulk()
	}
	s1, ok1 := z.Score(c.arg(1))
	s2, ok2 := z.Score(c.arg(2))
	if !ok1 || !ok2 {
		return protocol.NullBulk()
	}
	d := geo.Distance(geo.Decode(uint64(s1)), geo.Decode(uint64(s2))) / factor
	return protocol.Bulk(strconv.FormatFloat(d, 'f', 4, 64))
}

type geoMatch struct {
	member string
	point  geo.Point
	hash   uint64
	dist   float64 // meters
}

// geosearchCommand implements GEOSEARCH key FROMMEMBER m|FROMLONLAT lon lat
// BYRADIUS r unit|BYBOX w h unit [ASC|DESC] [COUNT n [ANY]]
// [WITHCOORD] [WITHDIST] [WITHHASH]
func geosearchCommand(c *call) protocol.Value {
	z, err := c.srv.store.ZSet(c.arg(0))
	if err != nil {
		return errorReply(err)
	}

	var (
		center                        geo.Point
		fromMember                    string
		fromLonLat, haveCenter        bool
		radius, width, height         float64
		byRadius, byBox               bool
		asc, desc, anyMatch           bool
		count                         int64
		withCoord, withDist, withHash bool
	)
	factor := 1.0
	args := c.args[1:]
	for i := 0; i < len(args); i++ {
		left := len(args) - i - 1
		switch {
		case equalFold(args[i], "FROMMEMBER") && left >= 1 && !haveCenter:
			fromMember = string(args[i+1])
			haveCenter = true
			i++
		case equalFold(args[i], "FROMLONLAT") && left >= 2 && !haveCenter:
			lon, ok1 := parseFloat(args[i+1])
			lat, ok2 := parseFloat(args[i+2])
			if !ok1 || !ok2 {
				return errNotFloat
			}
			center = geo.Point{Lon: lon, Lat: lat}
			if err := center.Validate(); err != nil {
				return errorReply(err)
			}
			fromLonLat = true
			haveCenter = true
			i += 2
		case equalFold(args[i], "BYRADIUS") && left >= 2 && !byBox:
			r, ok := parseFloat(args[i+1])
			if !ok || r < 0 {
				return protocol.ErrorValue("ERR radius cannot be negative")
			}
			f, err := geo.UnitFactor(string(args[i+2]))
			if err != nil {
				return errorReply(err)
			}
			radius, factor, byRadius = r*f, f, true
			i += 2
		case equalFold(args[i], "BYBOX") && left >= 3 && !byRadius:
			w, ok1 := parseFloat(args[i+1])
			h, ok2 := parseFloat(args[i+2])
			if !ok1 || !ok2 || w < 0 || h < 0 {
				return protocol.ErrorValue("ERR height or width cannot be negative")
			}
			f, err := geo.UnitFactor(string(args[i+3]))
			if err != nil {
				return errorReply(err)
			}
			width, height, factor, byBox = w*f, h*f, f, true
			i += 3
		case equalFold(args[i], "ASC"):
			asc = true
		case equalFold(args[i], "DESC"):
			desc = true
		case equalFold(args[i], "COUNT") && left >= 1:
			n, ok := parseInt(args[i+1])
			if !ok || n <= 0 {
				return protocol.ErrorValue("ERR COUNT must be > 0")
			}
			count = n
			i++
			if i+1 < len(args) && equalFold(args[i+1], "ANY") {
				anyMatch = true
				i++
			}
		case equalFold(args[i], "WITHCOORD"):
			withCoord = true
		case equalFold(args[i], "WITHDIST"):
			withDist = true
		case equalFold(args[i], "WITHHASH"):
			withHash = true
		default:
			return errSyntax
		}
	}
	if !haveCenter {
		return protocol.ErrorValue("ERR exactly one of FROMMEMBER or FROMLONLAT can be specified for GEOSEARCH")
	}
	if !byRadius && !byBox {
		return protocol.ErrorValue("ERR exactly one of BYRADIUS and BYBOX can be specified for GEOSEARCH")
	}
	if asc && desc {
		return errSyntax
	}
	if anyMatch && count == 0 {
		return protocol.ErrorValue("ERR the ANY argument requires COUNT argument")
	}
	if z == nil {
		return protocol.Array()
	}
	if !fromLonLat {
		score, ok := z.Score(fromMember)
		if !ok {
			return protocol.ErrorValue("ERR could not decode requested zset member")
		}
		center = geo.Decode(uint64(score))
	}

	var matches []geoMatch
	for _, m := range z.Members() {
		hash := uint64(m.Score)
		p := geo.Decode(hash)
		d, ok := geoWithin(center, p, byBox, radius, width, height)
		if !ok {
			continue
		}
		matches = append(matches, geoMatch{member: m.Member, point: p, hash: hash, dist: d})
		if anyMatch && int64(len(matches)) == count {
			break
		}
	}

	switch {
	case asc:
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	case desc:
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist > matches[j].dist })
	case count > 0 && !anyMatch:
		// COUNT without an order returns the closest matches
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	}
	if count > 0 && int64(len(matches)) > count {
		matches = matches[:count]
	}

	out := make([]protocol.Value, len(matches))
	for i, m := range matches {
		if !withCoord && !withDist && !withHash {
			out[i] = protocol.Bulk(m.member)
			continue
		}
		item := []protocol.Value{protocol.Bulk(m.member)}
		if withDist {
			item = append(item, protocol.Bulk(strconv.FormatFloat(m.dist/factor, 'f', 4, 64)))
		}
		if withHash {
			item = append(item, protocol.Integer(int64(m.hash)))
		}
		if withCoord {
			item = append(item, protocol.Array(protocol.Bulk(formatFloat(m.point.Lon)), protocol.Bulk(formatFloat(m.point.Lat))))
		}
		out[i] = protocol.Array(item...)
	}
	return protocol.Array(out...)
}

// geoWithin reports whether p lies within the search shape around center,
// and its distance from center in meters
func geoWithin(center, p geo.Point, box bool, radius, width, height float64) (float64, bool) {
	if !box {
		d := geo.Distance(center, p)
		return d, d <= radius
	}
	if geo.Distance(geo.Point{Lon: center.Lon, Lat: center.Lat}, geo.Point{Lon: center.Lon, Lat: p.Lat}) > height/2 {
		return 0, false
	}
	if geo.Distance(geo.Point{Lon: center.Lon, Lat: p.Lat}, p) > width/2 {
		return 0, false
	}
	return geo.Distance(center, p), true
}
