// Package logger expone el logger Zap compartido por el core de sesión.
//
// # Uso
//
// Inicialización (una vez, en cada cmd/*):
//
//	logger.Init(logger.Config{
//	    Env:   cfg.App.Env,   // "dev" o "prod"
//	    Level: cfg.Log.Level, // "debug", "info", "warn", "error"
//	})
//	defer logger.Sync()
//
// Los componentes reciben un *zap.Logger por constructor; si no se les pasa
// ninguno usan logger.Named("<componente>"). Dentro de un request HTTP se
// usa logger.From(ctx), que cae al singleton si el middleware no inyectó nada.
package logger
