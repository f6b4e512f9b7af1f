// Package middleware provides the HTTP middleware of the capture API.
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.BodyLimit(1 << 20))
//	router.Use(middleware.RequestLogger(logger))
//
// Compress wraps the finished router as a plain http.Handler.
package middleware
