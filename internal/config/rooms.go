package config

import "roomsync/internal/models"

// Directory is the fixed room set from configuration. Lookup order follows
// the config file, which is also the column order of the published grid.
type Directory struct {
	rooms []models.Room
	byID  map[string]models.Room
}

func NewDirectory(rooms []models.Room) *Directory {
	d := &Directory{
		rooms: append([]models.Room(nil), rooms...),
		byID:  make(map[string]models.Room, len(rooms)),
	}
	for _, room := range rooms {
		d.byID[room.ID] = room
	}
	return d
}

func (d *Directory) Rooms() []models.Room {
	return append([]models.Room(nil), d.rooms...)
}

func (d *Directory) RoomByID(id string) (models.Room, bool) {
	room, ok := d.byID[id]
	return room, ok
}
