// Package repository define los contratos de datos remotos que consume el core
// de sesión: el store de perfiles y el canal de cambios en tiempo real.
//
// Arquitectura:
//
//	┌─────────────────────────────────────────────────────┐
//	│   session.Manager / profile.Service / realtime.Sync │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│        ProfileStore, RealtimeChannel                │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	              ┌─────────┴─────────┐
//	              ▼                   ▼
//	      ┌─────────────┐     ┌─────────────┐
//	      │  store/pg   │     │ store/memory│
//	      └─────────────┘     └─────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
package repository
