package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"qattend/internal/activity"
	"qattend/internal/auth"
	"qattend/internal/binding"
	"qattend/internal/config"
	"qattend/internal/export"
	"qattend/internal/feed"
	"qattend/internal/gate"
	"qattend/internal/ledger"
	"qattend/internal/metrics"
	"qattend/internal/queue"
	"qattend/internal/roster"
	"qattend/internal/summary"
	"qattend/internal/token"
)

// api bundles the handlers' dependencies.
type api struct {
	cfg           config.App
	adminPassHash string
	gate          *gate.Gate
	roster        *roster.Repository
	ledger        *ledger.Repository
	bindings      *binding.Repository
	activity      *activity.Repository
	sessions      *token.SessionStore
	summaries     *summary.Client
	queue         queue.Queue
	hub           *feed.Hub
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ---- auth ----

func (a *api) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Username != a.cfg.AdminUser || !auth.CheckPassword(a.adminPassHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tokens, err := auth.Issue(req.Username, "admin", a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	a.logAction(c, "admin_login", req.Username)
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---- QR session ----

func (a *api) startQR(c *gin.Context) {
	var req struct {
		Scope            string `json:"scope"`
		LocationRequired *bool  `json:"location_required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scope := strings.TrimSpace(req.Scope)
	if scope == "" {
		scope = a.cfg.DefaultScope
	}
	locRequired := a.cfg.Geofence
	if req.LocationRequired != nil {
		locRequired = *req.LocationRequired && a.cfg.Geofence
	}

	tok := token.Issue(time.Now())
	sess := token.Session{
		TokenValue:       tok.Value,
		IssuedAt:         tok.IssuedAt,
		Scope:            scope,
		LocationRequired: locRequired,
	}
	if err := a.sessions.Start(c.Request.Context(), sess); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return
	}

	metrics.QRSessions.Inc()
	a.logAction(c, "generate_qr_code", tok.Value)

	c.JSON(http.StatusCreated, gin.H{
		"token":             tok.Value,
		"url":               token.CheckinURL(a.cfg.PublicBaseURL, tok, scope, locRequired),
		"scope":             scope,
		"location_required": locRequired,
		"issued_at":         tok.IssuedAt.Unix(),
		"expires_at":        tok.IssuedAt.Add(a.cfg.QRWindow).Unix(),
	})
}

func (a *api) currentQR(c *gin.Context) {
	sess, err := a.sessions.Current(c.Request.Context())
	if err == token.ErrNoSession {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	remaining := int(a.cfg.QRWindow.Seconds()) - int(time.Since(sess.IssuedAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"token":             sess.TokenValue,
		"scope":             sess.Scope,
		"location_required": sess.LocationRequired,
		"issued_at":         sess.IssuedAt.Unix(),
		"remaining_seconds": remaining,
	})
}

func (a *api) qrImage(c *gin.Context) {
	sess, err := a.sessions.Current(c.Request.Context())
	if err == token.ErrNoSession {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	size := 300
	if v := c.Query("size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1024 {
			size = parsed
		}
	}
	tok := token.Token{Value: sess.TokenValue, IssuedAt: sess.IssuedAt}
	png, err := token.QRPNG(token.CheckinURL(a.cfg.PublicBaseURL, tok, sess.Scope, sess.LocationRequired), size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (a *api) clearQR(c *gin.Context) {
	if err := a.sessions.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.logAction(c, "clear_qr_code", "")
	c.Status(http.StatusNoContent)
}

// ---- check-in ----

func (a *api) checkin(c *gin.Context) {
	var req struct {
		RollNumber string   `json:"roll_number" binding:"required"`
		DeviceID   string   `json:"device_id"`
		Lat        *float64 `json:"lat"`
		Lon        *float64 `json:"lon"`
		Access     string   `json:"access" binding:"required"`
		Company    string   `json:"company"`
		Loc        *int     `json:"loc"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if a.cfg.DeviceBinding && req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id required"})
		return
	}

	// The QR URL carries company and loc; when the client echoes neither,
	// fall back to the current session, then to deployment defaults.
	scope := req.Company
	locRequired := a.cfg.Geofence
	if req.Loc != nil {
		locRequired = *req.Loc == 1
	}
	if scope == "" || req.Loc == nil {
		if sess, err := a.sessions.Current(c.Request.Context()); err == nil {
			if scope == "" {
				scope = sess.Scope
			}
			if req.Loc == nil {
				locRequired = sess.LocationRequired
			}
		}
	}

	res, err := a.gate.Process(c.Request.Context(), gate.Request{
		RollNumber:       req.RollNumber,
		DeviceID:         req.DeviceID,
		Lat:              req.Lat,
		Lon:              req.Lon,
		Token:            req.Access,
		Scope:            scope,
		LocationRequired: locRequired,
	}, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !res.Accepted {
		metrics.Checkins.WithLabelValues(string(res.Rejection.Reason)).Inc()
		c.JSON(http.StatusOK, gin.H{
			"accepted":  false,
			"rejection": res.Rejection,
		})
		return
	}

	metrics.Checkins.WithLabelValues("accepted").Inc()
	a.publishCheckin(c.Request.Context(), res)

	total, err := a.ledger.CountByDay(c.Request.Context(), res.Record.Day)
	if err != nil {
		log.Printf("day count failed: %v", err)
	}
	a.hub.BroadcastJSON("checkin:new", gin.H{
		"record":  res.Record,
		"student": res.Student,
		"total":   total,
	})

	c.JSON(http.StatusOK, gin.H{
		"accepted": true,
		"record":   res.Record,
		"student":  res.Student.StudentName,
	})
}

func (a *api) publishCheckin(ctx context.Context, res gate.Result) {
	body, err := json.Marshal(queue.CheckinEvent{
		RollNumber:  res.Record.RollNumber,
		StudentName: res.Student.StudentName,
		Scope:       res.Record.Scope,
		Day:         res.Record.Day,
		ClockTime:   res.Record.ClockTime,
	})
	if err != nil {
		log.Printf("marshal checkin event: %v", err)
		return
	}
	if err := a.queue.Publish(ctx, queue.Message{Type: "checkin", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

// ---- roster ----

func (a *api) listStudents(c *gin.Context) {
	students, err := a.roster.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "total": len(students)})
}

func (a *api) addStudent(c *gin.Context) {
	var req struct {
		RollNumber  string `json:"rollnumber" binding:"required"`
		StudentName string `json:"studentname" binding:"required"`
		Branch      string `json:"branch"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inserted, err := a.roster.Insert(c.Request.Context(), roster.Student{
		RollNumber:  req.RollNumber,
		StudentName: req.StudentName,
		Branch:      req.Branch,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !inserted {
		c.JSON(http.StatusConflict, gin.H{"error": "roll number already exists"})
		return
	}
	a.logAction(c, "add_student", strings.ToLower(req.RollNumber))
	c.Status(http.StatusCreated)
}

func (a *api) deleteStudent(c *gin.Context) {
	roll := c.Param("roll")
	if err := a.roster.Delete(c.Request.Context(), roll); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.logAction(c, "delete_student", strings.ToLower(roll))
	c.Status(http.StatusNoContent)
}

func (a *api) importStudents(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()

	var res roster.ImportResult
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".xlsx":
		res, err = roster.ImportXLSX(c.Request.Context(), a.roster, file)
	default:
		res, err = roster.ImportCSV(c.Request.Context(), a.roster, file)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metrics.RosterImports.Add(float64(res.Imported))
	a.logAction(c, "import_students", header.Filename)
	c.JSON(http.StatusOK, res)
}

// ---- attendance ----

func (a *api) listAttendance(c *gin.Context) {
	var (
		records []ledger.Record
		err     error
	)
	if day := c.Query("date"); day != "" {
		records, err = a.ledger.ListByDay(c.Request.Context(), day)
	} else {
		records, err = a.ledger.ListAll(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": len(records)})
}

func (a *api) exportAttendance(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		records []ledger.Record
		err     error
	)
	day := c.Query("date")
	if day != "" {
		records, err = a.ledger.ListByDay(ctx, day)
	} else {
		records, err = a.ledger.ListAll(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	students, err := a.roster.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	byRoll := make(map[string]roster.Student, len(students))
	for _, s := range students {
		byRoll[s.RollNumber] = s
	}

	stamp := day
	if stamp == "" {
		stamp = "all"
	}
	switch c.DefaultQuery("format", "csv") {
	case "xlsx":
		data, err := export.XLSX(records, byRoll)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename=attendance-`+stamp+`.xlsx`)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
	default:
		data, err := export.CSV(records, byRoll)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename=attendance-`+stamp+`.csv`)
		c.Data(http.StatusOK, "text/csv", data)
	}
}

func (a *api) clearAttendance(c *gin.Context) {
	if err := a.ledger.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.logAction(c, "clear_attendance", "")
	c.Status(http.StatusNoContent)
}

// ---- device bindings ----

func (a *api) listDevices(c *gin.Context) {
	bindings, err := a.bindings.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bindings": bindings, "total": len(bindings)})
}

func (a *api) unbindDevice(c *gin.Context) {
	roll := c.Param("roll")
	if err := a.bindings.Unbind(c.Request.Context(), roll); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.logAction(c, "unbind_device", strings.ToLower(roll))
	c.Status(http.StatusNoContent)
}

// ---- logs, summary, feed ----

func (a *api) listLogs(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	entries, err := a.activity.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (a *api) summaryReport(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 90 {
			days = parsed
		}
	}
	counts, err := a.ledger.Aggregate(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	text, err := a.summaries.Generate(c.Request.Context(), counts)
	if err != nil {
		// Aggregates still have value without the prose.
		log.Printf("summary generation failed: %v", err)
		c.JSON(http.StatusOK, gin.H{"days": counts, "summary": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": counts, "summary": text})
}

// feedSocket upgrades an admin dashboard connection. Browsers cannot set an
// Authorization header on a WebSocket handshake, so the JWT rides in the
// token query parameter instead of going through the usual middleware.
func (a *api) feedSocket(c *gin.Context) {
	claims, err := auth.Parse(c.Query("token"), a.cfg.JWTSigningKey, a.cfg.JWTIssuer)
	if err != nil || claims.Role != "admin" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := feed.NewClient(a.hub, conn)
	a.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}

func (a *api) logAction(c *gin.Context, action, details string) {
	if err := a.activity.Append(c.Request.Context(), action, details); err != nil {
		log.Printf("activity log append failed: %v", err)
	}
}
