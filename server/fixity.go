package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/grove/store"
	"github.com/ndlib/grove/util"
)

const (
	// checksum budget when FixityRate is not set, in MB/hour. 5 TB/month,
	// more or less.
	defaultFixityRate = 5000

	// do not checksum a container any more often than every 6 months
	minFixityDuration = 180 * 24 * time.Hour
)

// StartFixity starts the background goroutine which verifies the checksums
// of stored containers. Use StopFixity to halt it.
func (s *RESTServer) StartFixity() {
	rate := s.FixityRate
	if rate == 0 {
		rate = defaultFixityRate
	}
	// MB/hour into bytes/second
	s.fixityrate = util.NewRateCounter(float64(rate) * 1000000 / 3600)
	s.fixitystop = make(chan struct{})
	go s.fixityloop(s.fixitystop, s.fixityrate)
}

// StopFixity halts the background fixity process. The checksum in progress,
// if any, is abandoned and its record stays scheduled. The process is not
// resumable once stopped.
func (s *RESTServer) StopFixity() {
	if s.fixitystop == nil {
		return
	}
	close(s.fixitystop)
	s.fixityrate.Stop()
	s.fixitystop = nil
	s.fixityrate = nil
}

// fixityloop pulls due check records from the database, one at a time, and
// runs them. It exits when stop is closed.
func (s *RESTServer) fixityloop(stop chan struct{}, rate *util.RateCounter) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		id := s.FixityDatabase.NextFixity(time.Now())
		if id != 0 {
			s.fixityCheck(id, rate)
			continue
		}
		// nothing due. sleep a while.
		select {
		case <-time.After(time.Hour):
		case <-stop:
			return
		}
	}
}

// fixityCheck performs the check the given record calls for, saves the
// result into the record, and schedules a followup check. An interrupted
// check saves nothing, so the record stays scheduled for next time.
func (s *RESTServer) fixityCheck(id int64, rate *util.RateCounter) {
	fx := s.FixityDatabase.GetFixity(id)
	if fx == nil {
		log.Println("fixity: record", id, "has disappeared")
		return
	}
	log.Println("begin fixity check for", fx.Key)
	info := s.Catalog.Lookup(fx.Key)
	status, notes := s.runChecksum(fx.Key, info, rate)
	if status == "" {
		// interrupted
		return
	}
	fx.Status = status
	fx.Notes = notes
	s.FixityDatabase.UpdateFixity(*fx)
	log.Println("fixity for", fx.Key, "is", status)
	if info != nil {
		s.FixityDatabase.UpdateFixity(Fixity{
			Key:           fx.Key,
			ScheduledTime: time.Now().Add(minFixityDuration),
		})
	}
}

// runChecksum reads the container key out of the store and compares its
// hashes with those in the catalog record. It returns the resulting status
// and any notes to go with it. An empty status means the read was
// interrupted by StopFixity.
func (s *RESTServer) runChecksum(key string, info *ContainerInfo, rate *util.RateCounter) (string, string) {
	if info == nil {
		return "error", "no catalog record"
	}
	goalmd5, _ := hex.DecodeString(info.MD5)
	goalsha, _ := hex.DecodeString(info.SHA256)
	rac, _, err := s.Containers.Open(key)
	if err != nil {
		return "error", err.Error()
	}
	defer rac.Close()
	ok, err := util.VerifyStreamHash(rate.Wrap(store.NewReader(rac)), goalmd5, goalsha)
	if err == util.ErrStopped {
		return "", ""
	}
	if err != nil {
		return "error", err.Error()
	}
	if !ok {
		return "mismatch", ""
	}
	return "ok", ""
}

// statusValidate sees whether its input is a valid fixity status. It
// returns the status, or an error if it is not valid.
func statusValidate(status string) (string, error) {
	switch status {
	case "scheduled", "ok", "error", "mismatch":
		return status, nil
	}
	return "", fmt.Errorf("invalid status %q", status)
}

// timeValidate parses a time parameter. The empty string and "*" stand for
// the zero time. Otherwise a date in the form "2006-01-02" or an RFC3339
// timestamp is expected.
func timeValidate(input string) (time.Time, error) {
	switch input {
	case "", "*":
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", input)
	if err != nil {
		t, err = time.Parse(time.RFC3339, input)
	}
	return t, err
}

// GetFixityHandler handles GET /fixity. The query parameters start, end,
// key, and status filter the records returned. Empty parameters (or "*")
// match everything.
func (s *RESTServer) GetFixityHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	start, err := timeValidate(q.Get("start"))
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	end, err := timeValidate(q.Get("end"))
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	status := q.Get("status")
	if status != "" && status != "*" {
		status, err = statusValidate(status)
		if err != nil {
			w.WriteHeader(400)
			fmt.Fprintln(w, err.Error())
			return
		}
	} else {
		status = ""
	}
	key := q.Get("key")
	if key == "*" {
		key = ""
	}
	records := s.FixityDatabase.SearchFixity(start, end, key, status)
	writeHTMLorJSON(w, r, fixityListTemplate, records)
}

var fixityListTemplate = template.Must(template.New("fixitylist").Parse(`<html>
<h1>Fixity Checks</h1>
<table>
<tr><th>ID</th><th>Container</th><th>Scheduled</th><th>Status</th><th>Notes</th></tr>
{{ range . }}
<tr><td><a href="/fixity/{{ .ID }}">{{ .ID }}</a></td>
<td><a href="/grove/{{ .Key }}">{{ .Key }}</a></td>
<td>{{ .ScheduledTime }}</td><td>{{ .Status }}</td><td>{{ .Notes }}</td></tr>
{{ end }}
</table>
</html>`))

// GetFixityIdHandler handles GET /fixity/:id and serves a single record.
func (s *RESTServer) GetFixityIdHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	record := s.FixityDatabase.GetFixity(id)
	if record == nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "No fixity record", id)
		return
	}
	writeHTMLorJSON(w, r, fixityRecordTemplate, record)
}

var fixityRecordTemplate = template.Must(template.New("fixityrecord").Parse(`<html>
<h1>Fixity Check {{ .ID }}</h1>
<dl>
<dt>ID</dt><dd>{{ .ID }}</dd>
<dt>Container</dt><dd><a href="/grove/{{ .Key }}">{{ .Key }}</a></dd>
<dt>Scheduled</dt><dd>{{ .ScheduledTime }}</dd>
<dt>Status</dt><dd>{{ .Status }}</dd>
<dt>Notes</dt><dd>{{ .Notes }}</dd>
</dl>
</html>`))

// PostFixityHandler handles POST /fixity/:key. It schedules a check of the
// given container to happen right away.
func (s *RESTServer) PostFixityHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	if s.Catalog.Lookup(key) == nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "No container", key)
		return
	}
	id, err := s.FixityDatabase.UpdateFixity(Fixity{Key: key, ScheduledTime: time.Now()})
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/fixity/%d", id))
	w.WriteHeader(201)
}

// PutFixityHandler handles PUT /fixity/:id. The body is a JSON fixity
// record; its scheduled time, status, and notes are copied into the stored
// record. Only records still in the scheduled state can be altered.
func (s *RESTServer) PutFixityHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	record := s.FixityDatabase.GetFixity(id)
	if record == nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "No fixity record", id)
		return
	}
	var update Fixity
	err = json.NewDecoder(r.Body).Decode(&update)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	if update.Status != "" {
		update.Status, err = statusValidate(update.Status)
		if err != nil {
			w.WriteHeader(400)
			fmt.Fprintln(w, err.Error())
			return
		}
		record.Status = update.Status
	}
	if !update.ScheduledTime.IsZero() {
		record.ScheduledTime = update.ScheduledTime
	}
	if update.Notes != "" {
		record.Notes = update.Notes
	}
	_, err = s.FixityDatabase.UpdateFixity(*record)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	writeHTMLorJSON(w, r, fixityRecordTemplate, s.FixityDatabase.GetFixity(id))
}

// DeleteFixityHandler handles DELETE /fixity/:id. Only scheduled checks can
// be deleted; completed ones are part of the historical record.
func (s *RESTServer) DeleteFixityHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	err = s.FixityDatabase.DeleteFixity(id)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
}
