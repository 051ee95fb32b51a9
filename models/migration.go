package models

import (
	"log"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Product{}, &Supplier{}, &Insumo{},
		&Recipe{}, &RecipeIngredient{},
		&InsumoLot{}, &InsumoReservation{},
		&WorkCenter{}, &CapacityBlock{},
		&ProductionOrder{},
		&Motive{}, &WasteRecord{}, &KanbanInterval{},
		&PurchaseOrder{}, &PurchaseOrderItem{},
		&FinishedProductLot{},
		&SalesOrder{}, &SalesOrderItem{},
		&ProductionEvent{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
