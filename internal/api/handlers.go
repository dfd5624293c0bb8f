package api

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"OpenACE-Chain/internal/auth"
	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
)

func callerOf(r *http.Request) (common.Address, error) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, xerrors.New(xerrors.CodeUnauthorized, "caller identity required")
	}
	return caller, nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	raw := r.PathValue(name)
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalidArgument("%s is not an address: %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseHash(name, raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 2+2*common.HashLength || !strings.HasPrefix(raw, "0x") {
		return common.Hash{}, invalidArgument("%s is not a 32-byte hex hash: %q", name, raw)
	}
	return common.HexToHash(raw), nil
}

func parseProofType(raw string) (proofs.ProofType, error) {
	proofType, err := proofs.ParseProofType(strings.TrimSpace(raw))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid proof type")
	}
	return proofType, nil
}

func (s *Server) handleSetCRS(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req CRSRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetCommonReferenceString(r.Context(), caller, validator.CRS(req.CRS)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CRSResponse{CRS: req.CRS})
}

func (s *Server) handleGetCRS(w http.ResponseWriter, r *http.Request) {
	crs := s.engine.CommonReferenceString()
	if crs == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "common reference string not set"))
		return
	}
	writeJSON(w, http.StatusOK, CRSResponse{CRS: []byte(crs)})
}

func (s *Server) handleListValidators(w http.ResponseWriter, _ *http.Request) {
	entries := s.engine.Validators()
	out := make([]ValidatorResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, validatorResponse(entry, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetValidator(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proofType, err := parseProofType(r.PathValue("proofType"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ValidatorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	replaced, err := s.engine.SetProof(r.Context(), caller, proofType, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.engine.ValidatorOf(proofType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validatorResponse(entry, replaced))
}

func (s *Server) handleGetValidator(w http.ResponseWriter, r *http.Request) {
	proofType, err := parseProofType(r.PathValue("proofType"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.engine.ValidatorOf(proofType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validatorResponse(entry, false))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ProofRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	blob, err := s.engine.ValidateProof(r.Context(), caller, proofs.ProofType(req.ProofType), req.Sender, req.Proof)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hashes, err := outputHashes(blob)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Outputs: blob, ProofHashes: hashes})
}

func outputHashes(blob []byte) ([]common.Hash, error) {
	count, err := proofs.CountProofOutputs(blob)
	if err != nil {
		return nil, err
	}
	hashes := make([]common.Hash, 0, count)
	for i := 0; i < count; i++ {
		record, err := proofs.ProofOutputAt(blob, i)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, proofs.HashProofOutput(record))
	}
	return hashes, nil
}

func (s *Server) handleProofStatus(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash("proofHash", r.PathValue("proofHash"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	proofType, err := parseProofType(query.Get("proof_type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rawSender := query.Get("sender")
	if !common.IsHexAddress(rawSender) {
		s.writeError(w, r, invalidArgument("sender is not an address: %q", rawSender))
		return
	}
	sender := common.HexToAddress(rawSender)
	valid, err := s.engine.ValidateProofByHash(r.Context(), proofType, hash, sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProofStatusResponse{
		ProofType: uint32(proofType),
		ProofHash: hash,
		Sender:    sender,
		Valid:     valid,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ClearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ClearProofByHashes(r.Context(), caller, proofs.ProofType(req.ProofType), req.ProofHashes); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ProofRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	receipts, err := s.engine.ProcessProof(r.Context(), caller, proofs.ProofType(req.ProofType), req.Sender, req.Proof)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := ProcessResponse{Receipts: make([]ReceiptResponse, 0, len(receipts))}
	for _, receipt := range receipts {
		resp.Receipts = append(resp.Receipts, receiptResponse(receipt))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateRegistry(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req CreateRegistryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	registry, err := s.engine.CreateNoteRegistry(r.Context(), caller, req.LinkedToken, req.ScalingFactor, req.CanAdjustSupply, req.CanConvert)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registryResponse(registry))
}

func (s *Server) handleUpdateRegistry(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.engine.UpdateNoteRegistry(r.Context(), caller, proofs.ProofType(req.ProofType), req.ProofSender, req.Output)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(receipt))
}

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	registry, err := s.engine.NoteRegistry(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registryResponse(registry))
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	noteHash, err := parseHash("noteHash", r.PathValue("noteHash"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	note, err := s.engine.Note(r.Context(), owner, noteHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteResponse(note))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := pathAddress(r, "owner")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := s.engine.PublicApprove(r.Context(), caller, owner, req.ProofHash, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalResponse{Registry: owner, Approver: caller, ProofHash: req.ProofHash, Total: total})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proofHash, err := parseHash("proofHash", r.PathValue("proofHash"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rawApprover := r.URL.Query().Get("approver")
	if !common.IsHexAddress(rawApprover) {
		s.writeError(w, r, invalidArgument("approver is not an address: %q", rawApprover))
		return
	}
	approver := common.HexToAddress(rawApprover)
	total, err := s.engine.PublicApproval(r.Context(), owner, approver, proofHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalResponse{Registry: owner, Approver: approver, ProofHash: proofHash, Total: total})
}
