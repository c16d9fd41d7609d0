package domain

// Snapshot es la imagen completa del libro: lo que se persiste y lo que se
// usa para reconstruir el motor al arrancar.
type Snapshot struct {
	Subjects  []SubjectConfig
	Markets   []Market // ordenados por ID
	Positions []Position
	Pending   []PendingTransfer // transferencias sin reconciliar
	LastSeq   uint64 // último evento registrado
}
