package routes

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"tripboard/auth"
	"tripboard/images"
	"tripboard/metrics"
	"tripboard/middleware"
	"tripboard/printout"
	"tripboard/ratelim"
	"tripboard/tripdata"
)

// Handlers is everything main wires onto the router. Blobs is only set when
// uploads live in GridFS.
type Handlers struct {
	Trip     *tripdata.Handler
	Auth     *auth.Handler
	Images   *images.Handler
	Printout *printout.Handler
	Live     httprouter.Handle
	Blobs    httprouter.Handle

	AuthLimiter  *ratelim.RateLimiter
	WriteLimiter *ratelim.RateLimiter
	StaticDir    string
}

// prefixes mounts every public path both bare and under /api, where the
// bundled front-end calls them.
var prefixes = []string{"", "/api"}

func New(h Handlers) *httprouter.Router {
	router := httprouter.New()
	AddUtilityRoutes(router, h)
	AddStaticRoutes(router, h)
	for _, p := range prefixes {
		AddDataRoutes(router, p, h)
		AddAuthRoutes(router, p, h)
		AddImageRoutes(router, p, h)
	}
	return router
}

func AddUtilityRoutes(router *httprouter.Router, h Handlers) {
	router.GET("/health", Index)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	if h.Printout != nil {
		router.GET("/itinerary.pdf", middleware.Instrument("/itinerary.pdf", h.Printout.Serve))
	}
}

func AddStaticRoutes(router *httprouter.Router, h Handlers) {
	if h.StaticDir != "" {
		router.ServeFiles("/static/*filepath", http.Dir(h.StaticDir))
	}
	if h.Blobs != nil {
		router.GET("/blobs/:name", middleware.Instrument("/blobs/:name", h.Blobs))
	}
}

func AddDataRoutes(router *httprouter.Router, prefix string, h Handlers) {
	if h.Trip == nil {
		return
	}
	write := limited(h.WriteLimiter)
	t := h.Trip
	router.GET(prefix+"/data", middleware.Instrument("/data", t.GetData))
	router.POST(prefix+"/data", middleware.Instrument("/data", write(t.SaveData)))
	router.POST(prefix+"/data/questions", middleware.Instrument("/data/questions", write(t.AddQuestion)))
	router.DELETE(prefix+"/data/questions/:id", middleware.Instrument("/data/questions/:id", write(t.DeleteMessage)))
	router.POST(prefix+"/data/questions/:id/replies", middleware.Instrument("/data/questions/:id/replies", write(t.AddReply)))
	router.DELETE(prefix+"/data/questions/:id/replies/:replyId", middleware.Instrument("/data/questions/:id/replies/:replyId", write(t.DeleteReply)))
	router.POST(prefix+"/data/attendees", middleware.Instrument("/data/attendees", write(t.AddAttendee)))
	router.PATCH(prefix+"/data/attendees/:id", middleware.Instrument("/data/attendees/:id", write(t.UpdateAttendee)))
	router.DELETE(prefix+"/data/attendees/:id", middleware.Instrument("/data/attendees/:id", write(t.DeleteAttendee)))
	if h.Live != nil {
		router.GET(prefix+"/data/live", middleware.Instrument("/data/live", h.Live))
	}
}

func AddAuthRoutes(router *httprouter.Router, prefix string, h Handlers) {
	if h.Auth == nil {
		return
	}
	router.POST(prefix+"/auth", middleware.Instrument("/auth", limited(h.AuthLimiter)(h.Auth.Login)))
}

func AddImageRoutes(router *httprouter.Router, prefix string, h Handlers) {
	if h.Images == nil {
		return
	}
	write := limited(h.WriteLimiter)
	for _, path := range []string{"/images", "/upload-images"} {
		router.GET(prefix+path, middleware.Instrument(path, h.Images.List))
		router.POST(prefix+path, middleware.Instrument(path, write(h.Images.Upload)))
	}
}

// Index is a simple health check handler.
func Index(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("200"))
}

func limited(rl *ratelim.RateLimiter) func(httprouter.Handle) httprouter.Handle {
	if rl == nil {
		return func(h httprouter.Handle) httprouter.Handle { return h }
	}
	return rl.Limit
}
